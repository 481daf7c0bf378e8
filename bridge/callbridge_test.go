package bridge

import (
	"testing"
	"unicode/utf16"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// mapLibrary resolves symbols from a fixed table.
type mapLibrary struct {
	name    string
	syms    map[string]NativeFunc
	version uint32
}

func (l *mapLibrary) Name() string { return l.name }

func (l *mapLibrary) Lookup(symbol string) (NativeFunc, bool) {
	fn, ok := l.syms[symbol]
	return fn, ok
}

type loadingLibrary struct {
	*mapLibrary
	loads int
}

func (l *loadingLibrary) OnLoad(Env) (uint32, error) {
	l.loads++
	return l.version, nil
}

func stringValue(t *testing.T, b *Bridge, h managed.Handle) string {
	t.Helper()
	obj, ok := b.Heap().Get(h)
	require.True(t, ok, "string %s not live", h)
	s, ok := obj.(*managed.String)
	require.True(t, ok, "%s is not a string", h)
	return string(utf16.Decode(s.Chars()))
}

func TestMarshalArgs(t *testing.T) {
	tests := []struct {
		name    string
		shorty  string
		args    []managed.Value
		want    []uint64
		wantErr bool
	}{
		{"no args", "V", nil, []uint64{0x10}, false},
		{"mixed", "JIL", []managed.Value{managed.IntValue(-1), managed.RefValue(0x20)},
			[]uint64{0x10, 0xffffffffffffffff, 0x20}, false},
		{"too few", "VII", []managed.Value{managed.IntValue(1)}, nil, true},
		{"wrong kind", "VJ", []managed.Value{managed.IntValue(1)}, nil, true},
		{"empty shorty", "", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalArgs(tt.shorty, 0x10, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("words (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInvoke_RegisteredStatic(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)

	cls := tb.Heap().DefineClass("app/Math", nil)
	m := cls.Define(&managed.Method{Name: "add", Signature: "(II)I", Static: true, Native: true})
	var receiver managed.Handle
	require.NoError(t, tb.RegisterNatives(cls, []NativeMethod{{
		Name: "add", Signature: "(II)I",
		Fn: func(_ Env, args []uint64) uint64 {
			receiver = managed.Handle(args[0])
			return uint64(int64(int32(args[1]) + int32(args[2])))
		},
	}}))
	require.True(t, tb.IsBound(m))

	got, err := tb.Invoke(tc, m, 0, managed.IntValue(40), managed.IntValue(-2))
	require.NoError(t, err)
	require.Equal(t, int32(38), got.Int())
	require.Equal(t, cls.Handle(), receiver, "static natives receive the class object")
}

func TestInvoke_ImplicitFrameHoldsArguments(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)

	cls := tb.Heap().DefineClass("app/Greeter", nil)
	m := cls.Define(&managed.Method{Name: "greet", Signature: "(Ljava/lang/String;)Ljava/lang/String;", Native: true})
	require.NoError(t, tb.RegisterNatives(cls, []NativeMethod{{
		Name: "greet", Signature: "(Ljava/lang/String;)Ljava/lang/String;",
		Fn: func(env Env, args []uint64) uint64 {
			self, name := managed.Handle(args[0]), managed.Handle(args[1])
			require.True(t, tc.IsLocal(self), "receiver not local during call")
			require.True(t, tc.IsLocal(name), "argument not local during call")

			utf := env.GetStringUTFChars(name)
			defer env.ReleaseStringUTFChars(name, utf)
			return uint64(env.NewStringUTF(append([]byte("hello, "), utf...)))
		},
	}}))

	self, err := tb.Heap().New(cls)
	require.NoError(t, err)
	name := tb.Heap().NewString([]uint16{'b', 'o', 'b'})

	before := tc.LocalCount()
	got, err := tb.Invoke(tc, m, self, managed.RefValue(name))
	require.NoError(t, err)
	require.Equal(t, before, tc.LocalCount(), "implicit frame leaked locals")
	require.Zero(t, tc.FrameDepth())
	require.Equal(t, "hello, bob", stringValue(t, tb.Bridge, got.Ref()))
}

func TestInvoke_NullReceiver(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)

	cls := tb.Heap().DefineClass("app/Inst", nil)
	m := cls.Define(&managed.Method{Name: "run", Signature: "()V", Native: true})
	require.NoError(t, tb.RegisterNatives(cls, []NativeMethod{{Name: "run", Signature: "()V", Fn: func(Env, []uint64) uint64 { return 0 }}}))

	_, err := tb.Invoke(tc, m, 0)
	require.Equal(t, errors.KindInvalidRef, kindOf(err))
}

func TestInvoke_Synchronized(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)

	cls := tb.Heap().DefineClass("app/Counter", nil)
	m := cls.Define(&managed.Method{Name: "inc", Signature: "()V", Native: true, Synchronized: true})
	var owner, count int
	require.NoError(t, tb.RegisterNatives(cls, []NativeMethod{{
		Name: "inc", Signature: "()V",
		Fn: func(_ Env, args []uint64) uint64 {
			owner, count = tb.Heap().MonitorOwner(managed.Handle(args[0]))
			return 0
		},
	}}))

	self, err := tb.Heap().New(cls)
	require.NoError(t, err)
	_, err = tb.Invoke(tc, m, self)
	require.NoError(t, err)

	require.Equal(t, tc.ID(), owner)
	require.Equal(t, 1, count)
	after, _ := tb.Heap().MonitorOwner(self)
	require.Zero(t, after)
	require.Empty(t, tc.Monitors())
}

func TestInvoke_LibraryResolution(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)

	cls := tb.Heap().DefineClass("app/my_lib/Codec", nil)
	plain := cls.Define(&managed.Method{Name: "version", Signature: "()I", Static: true, Native: true})
	overloaded := cls.Define(&managed.Method{Name: "encode", Signature: "([BI)J", Static: true, Native: true})

	lib := &mapLibrary{name: "codec", syms: map[string]NativeFunc{
		"Java_app_my_1lib_Codec_version": func(Env, []uint64) uint64 { return 3 },
		"Java_app_my_1lib_Codec_encode___3BI": func(_ Env, args []uint64) uint64 {
			return args[2] * 2
		},
	}}
	require.NoError(t, tb.LoadLibrary(tc, lib))
	require.NoError(t, tb.LoadLibrary(tc, lib), "second load is a no-op")
	require.Equal(t, 1, tb.Stats().Libraries)

	v, err := tb.Invoke(tc, plain, 0)
	require.NoError(t, err)
	require.Equal(t, int32(3), v.Int())

	arr, _ := tb.Heap().ArrayClassOf(managed.Byte)
	data, err := tb.Heap().NewArray(arr, 2)
	require.NoError(t, err)
	v, err = tb.Invoke(tc, overloaded, 0, managed.RefValue(data), managed.IntValue(21))
	require.NoError(t, err)
	require.Equal(t, int64(42), v.Long())
	require.True(t, tb.IsBound(overloaded), "resolved symbol is cached")

	require.Equal(t, 2, tb.UnregisterNatives(cls))
	require.False(t, tb.IsBound(plain))
	v, err = tb.Invoke(tc, plain, 0)
	require.NoError(t, err, "unregistered methods resolve through libraries again")
	require.Equal(t, int32(3), v.Int())
}

func TestInvoke_UnsatisfiedLink(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)

	cls := tb.Heap().DefineClass("app/Missing", nil)
	m := cls.Define(&managed.Method{Name: "gone", Signature: "()V", Static: true, Native: true})

	_, err := tb.Invoke(tc, m, 0)
	require.Equal(t, errors.KindNotFound, kindOf(err))
	require.True(t, tc.ExceptionCheck())
	pending, _ := tb.Heap().ClassOf(tc.Pending())
	require.Equal(t, managed.LinkError, pending.Name())
}

func TestLoadLibrary_OnLoadVersion(t *testing.T) {
	tests := []struct {
		name    string
		version uint32
		ok      bool
	}{
		{"1.6", Version1_6, true},
		{"1.2", Version1_2, true},
		{"never published", 0x00010003, false},
		{"too new", 0x00020000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t, nil)
			tc := tb.attach(t)
			lib := &loadingLibrary{mapLibrary: &mapLibrary{name: "hooked", version: tt.version}}

			err := tb.LoadLibrary(tc, lib)
			require.Equal(t, 1, lib.loads)
			if tt.ok {
				require.NoError(t, err)
				require.Equal(t, 1, tb.Stats().Libraries)
				return
			}
			require.Equal(t, errors.KindRegistration, kindOf(err))
			require.Zero(t, tb.Stats().Libraries, "failed library stays loaded")
		})
	}
}

func TestRegisterNatives_Errors(t *testing.T) {
	tb := newTestBridge(t, nil)
	cls := tb.Heap().DefineClass("app/Reg", nil)
	cls.Define(&managed.Method{Name: "managed", Signature: "()V", Static: true, Body: func(managed.Handle, []managed.Value) (managed.Value, error) {
		return managed.VoidValue(), nil
	}})
	cls.Define(&managed.Method{Name: "native", Signature: "()V", Static: true, Native: true})
	noop := func(Env, []uint64) uint64 { return 0 }

	tests := []struct {
		name string
		nm   NativeMethod
	}{
		{"not native", NativeMethod{Name: "managed", Signature: "()V", Fn: noop}},
		{"unknown method", NativeMethod{Name: "other", Signature: "()V", Fn: noop}},
		{"signature mismatch", NativeMethod{Name: "native", Signature: "(I)V", Fn: noop}},
		{"bad signature", NativeMethod{Name: "native", Signature: "(Q)V", Fn: noop}},
		{"nil function", NativeMethod{Name: "native", Signature: "()V"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tb.RegisterNatives(cls, []NativeMethod{tt.nm})
			require.Equal(t, errors.KindRegistration, kindOf(err))
		})
	}
}

func TestChecked_ReturnValidation(t *testing.T) {
	tb, tc, _ := checkedBridge(t, nil)

	cls := tb.Heap().DefineClass("app/Ret", nil)
	m := cls.Define(&managed.Method{Name: "name", Signature: "()Ljava/lang/String;", Static: true, Native: true})

	tests := []struct {
		name string
		kind errors.Kind
		fn   NativeFunc
	}{
		{"wrong class", errors.KindTypeMismatch, func(env Env, _ []uint64) uint64 {
			return uint64(NewArray[int32](env, 1))
		}},
		{"untracked", errors.KindInvalidRef, func(Env, []uint64) uint64 {
			return uint64(tb.Heap().NewString(nil))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tb.RegisterNatives(cls, []NativeMethod{{Name: "name", Signature: "()Ljava/lang/String;", Fn: tt.fn}}))
			before := len(tb.violations(tt.kind))
			_, err := tb.Invoke(tc, m, 0)
			require.NoError(t, err)
			require.Len(t, tb.violations(tt.kind), before+1)
		})
	}

	err := tb.CheckReturnType(Type{Kind: managed.Reference, Class: managed.ObjectClass}, tb.Heap().NewString(nil))
	require.Nil(t, err)
}

func TestChecked_LeftoverFrameReported(t *testing.T) {
	tb, tc, _ := checkedBridge(t, nil)

	cls := tb.Heap().DefineClass("app/Leak", nil)
	m := cls.Define(&managed.Method{Name: "leak", Signature: "()V", Static: true, Native: true})
	require.NoError(t, tb.RegisterNatives(cls, []NativeMethod{{
		Name: "leak", Signature: "()V",
		Fn: func(env Env, _ []uint64) uint64 {
			env.PushLocalFrame(4)
			env.NewStringUTF([]byte("leaked"))
			return 0
		},
	}}))

	before := tc.LocalCount()
	_, err := tb.Invoke(tc, m, 0)
	require.NoError(t, err)
	require.Len(t, tb.violations(errors.KindUnbalanced), 1)
	require.Zero(t, tc.FrameDepth())
	require.Equal(t, before, tc.LocalCount())
}

func TestCallMethod_ManagedException(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)
	env := tc.Env()

	cls := tb.Heap().DefineClass("app/Thrower", nil)
	rt := mustClass(t, tb.Bridge, managed.RuntimeError)
	ex := tb.Heap().NewThrowable(rt, "bad")
	m := cls.Define(&managed.Method{Name: "fail", Signature: "()V", Static: true,
		Body: func(managed.Handle, []managed.Value) (managed.Value, error) {
			return managed.VoidValue(), &managed.Exception{Object: ex, Msg: "bad"}
		},
	})

	mid := env.GetStaticMethodID(env.FindClass("app/Thrower"), "fail", "()V")
	require.Same(t, m, mid)
	env.CallStaticMethod(cls.Handle(), mid)
	require.Equal(t, ex, tc.Pending())

	env.ExceptionClear()
	require.Nil(t, env.GetStaticMethodID(cls.Handle(), "missing", "()V"))
	pending, _ := tb.Heap().ClassOf(tc.Pending())
	require.Equal(t, managed.NoSuchMethod, pending.Name())
}

func TestCallMethod_VirtualDispatch(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)
	env := tc.Env()

	body := func(v int32) managed.Body {
		return func(managed.Handle, []managed.Value) (managed.Value, error) { return managed.IntValue(v), nil }
	}
	base := tb.Heap().DefineClass("app/Base", nil)
	derived := tb.Heap().DefineClass("app/Derived", base)
	m := base.Define(&managed.Method{Name: "id", Signature: "()I", Body: body(1)})
	derived.Define(&managed.Method{Name: "id", Signature: "()I", Body: body(2)})

	obj := env.AllocObject(env.FindClass("app/Derived"))
	require.Equal(t, int32(2), env.CallMethod(obj, m).Int())
	require.Equal(t, int32(1), env.CallNonvirtualMethod(obj, m).Int())
}
