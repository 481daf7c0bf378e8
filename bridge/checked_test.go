package bridge

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

func checkedBridge(t *testing.T, configure func(*Options)) (*testBridge, *ThreadContext, Env) {
	t.Helper()
	tb := newTestBridge(t, func(o *Options) {
		o.Checked = true
		if configure != nil {
			configure(o)
		}
	})
	tc := tb.attach(t)
	return tb, tc, tc.Env()
}

func TestChecked_OverrunIsFatal(t *testing.T) {
	_, _, env := checkedBridge(t, nil)

	a := NewArray[int8](env, 16)
	elems, isCopy := env.GetArrayElements(a, managed.Byte)
	require.True(t, isCopy, "checked gets hand out guarded copies")
	require.Len(t, elems, 16)

	elems[:17][16] = 0x7f

	fe := expectFatal(t, errors.KindCorruption, func() {
		env.ReleaseArrayElements(a, elems, ReleaseDefault)
	})
	require.Contains(t, fe.Err.Detail, "after buffer")
	require.Equal(t, uint64(a), fe.Err.Handle)
}

func TestChecked_UnderrunIsFatal(t *testing.T) {
	_, _, env := checkedBridge(t, nil)

	a := NewArray[int32](env, 4)
	elems, _ := GetArrayElements[int32](env, a)
	before := (*byte)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(elems)), -1))
	*before ^= 0xff

	fe := expectFatal(t, errors.KindCorruption, func() {
		ReleaseArrayElements(env, a, elems, ReleaseDefault)
	})
	require.Contains(t, fe.Err.Detail, "before buffer")
}

func TestChecked_ReleaseModes(t *testing.T) {
	tb, tc, env := checkedBridge(t, nil)

	a := NewArray[int32](env, 4)
	elems, isCopy := GetArrayElements[int32](env, a)
	require.True(t, isCopy)

	elems[0] = 7
	ReleaseArrayElements(env, a, elems, ReleaseCommit)
	require.Equal(t, 1, tc.OutstandingBuffers(), "commit keeps the buffer")
	require.True(t, tb.IsPinned(a))

	elems[1] = 8
	ReleaseArrayElements(env, a, elems, ReleaseAbort)
	require.Zero(t, tc.OutstandingBuffers())
	require.False(t, tb.IsPinned(a))

	got := make([]int32, 4)
	GetArrayRegion(env, a, 0, got)
	if diff := cmp.Diff([]int32{7, 0, 0, 0}, got); diff != "" {
		t.Fatalf("array after commit then abort (-want +got):\n%s", diff)
	}
	require.Zero(t, tb.Violations())
}

func TestChecked_StringCharsMustNotChange(t *testing.T) {
	tests := []struct {
		name string
		run  func(env Env, s managed.Handle)
	}{
		{"utf", func(env Env, s managed.Handle) {
			utf := env.GetStringUTFChars(s)
			utf[0] = 'X'
			env.ReleaseStringUTFChars(s, utf)
		}},
		{"chars", func(env Env, s managed.Handle) {
			chars := env.GetStringChars(s)
			chars[0] = 'X'
			env.ReleaseStringChars(s, chars)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, env := checkedBridge(t, nil)
			s := env.NewStringUTF([]byte("hello"))
			fe := expectFatal(t, errors.KindCorruption, func() { tt.run(env, s) })
			require.Contains(t, fe.Err.Detail, "modified")
		})
	}
}

func TestChecked_StringCharsRoundTrip(t *testing.T) {
	tb, tc, env := checkedBridge(t, nil)
	s := env.NewStringUTF([]byte("h\xc3\xa9llo"))

	utf := env.GetStringUTFChars(s)
	require.Equal(t, "h\xc3\xa9llo", string(utf))
	env.ReleaseStringUTFChars(s, utf)

	chars := env.GetStringChars(s)
	require.Equal(t, []uint16{'h', 0xe9, 'l', 'l', 'o'}, chars)
	require.True(t, tb.IsPinned(s))
	env.ReleaseStringChars(s, chars)

	require.False(t, tb.IsPinned(s))
	require.Zero(t, tc.OutstandingBuffers())
	require.Zero(t, tb.Violations())
}

func TestChecked_ForceCopyCritical(t *testing.T) {
	_, tc, env := checkedBridge(t, func(o *Options) { o.ForceCopy = true })

	a := NewArray[int16](env, 8)
	view := GetArrayCritical[int16](env, a)
	require.Equal(t, 1, tc.OutstandingBuffers())
	view[:9][8] = 1

	expectFatal(t, errors.KindCorruption, func() {
		ReleaseArrayCritical(env, a, view, ReleaseDefault)
	})
}

func TestChecked_CriticalWithoutForceCopyIsDirect(t *testing.T) {
	_, tc, env := checkedBridge(t, nil)

	a := NewArray[int16](env, 8)
	view := GetArrayCritical[int16](env, a)
	require.Zero(t, tc.OutstandingBuffers())
	ReleaseArrayCritical(env, a, view, ReleaseDefault)
}

func TestChecked_MisuseReports(t *testing.T) {
	tests := []struct {
		name string
		kind errors.Kind
		run  func(t *testing.T, tb *testBridge, env Env)
	}{
		{"invalid utf8", errors.KindInvalidUTF8, func(t *testing.T, _ *testBridge, env Env) {
			require.Zero(t, env.NewStringUTF([]byte{'a', 0xff}))
			env.ExceptionClear()
		}},
		{"embedded nul", errors.KindInvalidUTF8, func(t *testing.T, _ *testBridge, env Env) {
			env.NewStringUTF([]byte{'a', 0, 'b'})
			env.ExceptionClear()
		}},
		{"wrong element kind", errors.KindTypeMismatch, func(t *testing.T, _ *testBridge, env Env) {
			a := NewArray[int32](env, 2)
			elems, _ := env.GetArrayElements(a, managed.Long)
			env.ReleaseArrayElements(a, elems, ReleaseAbort)
		}},
		{"not a string", errors.KindTypeMismatch, func(t *testing.T, _ *testBridge, env Env) {
			env.GetStringLength(NewArray[int32](env, 1))
		}},
		{"untracked reference", errors.KindInvalidRef, func(t *testing.T, tb *testBridge, env Env) {
			env.GetObjectClass(newObject(t, tb.Bridge))
		}},
		{"null reference", errors.KindInvalidRef, func(t *testing.T, _ *testBridge, env Env) {
			env.GetArrayLength(0)
		}},
		{"double global delete", errors.KindInvalidRef, func(t *testing.T, tb *testBridge, env Env) {
			g := env.NewGlobalRef(env.NewLocalRef(newObject(t, tb.Bridge)))
			env.DeleteGlobalRef(g)
			env.DeleteGlobalRef(g)
		}},
		{"local deleted as global", errors.KindInvalidRef, func(t *testing.T, tb *testBridge, env Env) {
			env.DeleteGlobalRef(env.NewLocalRef(newObject(t, tb.Bridge)))
		}},
		{"bad release mode", errors.KindBadReleaseMode, func(t *testing.T, _ *testBridge, env Env) {
			a := NewArray[int32](env, 2)
			elems, _ := env.GetArrayElements(a, managed.Int)
			env.ReleaseArrayElements(a, elems, ReleaseMode(7))
		}},
		{"foreign buffer", errors.KindInvalidInput, func(t *testing.T, _ *testBridge, env Env) {
			env.ReleaseArrayElements(NewArray[int32](env, 2), make([]byte, 8), ReleaseDefault)
		}},
		{"region out of bounds", errors.KindOutOfBounds, func(t *testing.T, _ *testBridge, env Env) {
			SetArrayRegion(env, NewArray[int32](env, 2), 1, []int32{1, 2})
			env.ExceptionClear()
		}},
		{"dotted class name", errors.KindInvalidInput, func(t *testing.T, _ *testBridge, env Env) {
			env.FindClass("java.lang.String")
			env.ExceptionClear()
		}},
		{"throw non-throwable", errors.KindTypeMismatch, func(t *testing.T, tb *testBridge, env Env) {
			env.Throw(env.NewLocalRef(newObject(t, tb.Bridge)))
			env.ExceptionClear()
		}},
		{"monitor not owned", errors.KindUnbalanced, func(t *testing.T, tb *testBridge, env Env) {
			env.MonitorExit(env.NewLocalRef(newObject(t, tb.Bridge)))
			env.ExceptionClear()
		}},
		{"negative frame capacity", errors.KindInvalidInput, func(t *testing.T, _ *testBridge, env Env) {
			env.EnsureLocalCapacity(-1)
			env.ExceptionClear()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb, _, env := checkedBridge(t, nil)
			tt.run(t, tb, env)
			require.NotEmpty(t, tb.violations(tt.kind), "no %s report", tt.kind)
		})
	}
}

func TestChecked_PendingException(t *testing.T) {
	tb, _, env := checkedBridge(t, nil)

	require.NoError(t, env.ThrowNew(env.FindClass(managed.RuntimeError), "boom"))
	env.FindClass(managed.StringClass)
	require.Len(t, tb.violations(errors.KindPendingException), 1)

	// Exception handling and cleanup calls are allowed with one pending.
	require.True(t, env.ExceptionCheck())
	env.DeleteLocalRef(env.ExceptionOccurred())
	env.ExceptionClear()
	require.Len(t, tb.violations(errors.KindPendingException), 1)
}

func TestChecked_WrongThread(t *testing.T) {
	tb, _, env := checkedBridge(t, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		env.GetVersion()
	}()
	<-done

	require.Len(t, tb.violations(errors.KindWrongThread), 1)
}

func TestChecked_AbortPolicyEscalatesMisuse(t *testing.T) {
	tb, _, env := checkedBridge(t, nil)
	require.NoError(t, tb.SetPolicy(PolicyAbort))

	expectFatal(t, errors.KindInvalidRef, func() {
		env.DeleteGlobalRef(newObject(t, tb.Bridge))
	})
}

func TestChecked_CallArguments(t *testing.T) {
	tb, _, env := checkedBridge(t, nil)

	cls := tb.Heap().DefineClass("app/Args", nil)
	m := cls.Define(&managed.Method{
		Name: "len", Signature: "(Ljava/lang/String;I)I", Static: true,
		Body: func(_ managed.Handle, args []managed.Value) (managed.Value, error) {
			if len(args) != 2 {
				return managed.IntValue(-1), nil
			}
			return managed.IntValue(args[1].Int()), nil
		},
	})
	clsRef := env.FindClass("app/Args")
	s := env.NewStringUTF([]byte("x"))

	got := env.CallStaticMethod(clsRef, m, managed.RefValue(s), managed.IntValue(3))
	require.Equal(t, int32(3), got.Int())
	require.Zero(t, tb.Violations())

	env.CallStaticMethod(clsRef, m, managed.IntValue(3))
	require.NotEmpty(t, tb.violations(errors.KindTypeMismatch), "argument count")

	arr := NewArray[int32](env, 1)
	before := len(tb.violations(errors.KindTypeMismatch))
	env.CallStaticMethod(clsRef, m, managed.RefValue(arr), managed.IntValue(3))
	require.Greater(t, len(tb.violations(errors.KindTypeMismatch)), before, "argument class")

	before = len(tb.violations(errors.KindTypeMismatch))
	env.CallMethod(s, m, managed.RefValue(s), managed.IntValue(3))
	require.Greater(t, len(tb.violations(errors.KindTypeMismatch)), before, "static called as instance")
}

func TestEnableChecked_RebindsAttachedThreads(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)
	require.False(t, tc.Checked())
	_, direct := tc.Env().(*directEnv)
	require.True(t, direct)

	tb.EnableChecked()
	require.True(t, tc.Checked())
	_, checked := tc.Env().(*checkedEnv)
	require.True(t, checked)
	_, checkedInv := tb.Invoker().(*checkedInvoker)
	require.True(t, checkedInv)

	tc.Env().GetArrayLength(0)
	require.Len(t, tb.violations(errors.KindInvalidRef), 1)
}
