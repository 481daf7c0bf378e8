package wasmnative

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// HostModuleName is the import module guest natives use for bridge calls.
const HostModuleName = "jni"

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// errNoEnv is the trap raised when a host function runs outside a native call.
var errNoEnv = errors.New(errors.PhaseLibrary, errors.KindNotAttached).
	Detail("bridge host function called outside a native method").
	Build()

type hostFunc struct {
	fn      func(env bridge.Env, mod api.Module, stack []uint64)
	name    string
	params  []api.ValueType
	results []api.ValueType
}

// hostFuncs lists the bridge operations exported to guests. Strings and
// buffers are passed as (pointer, length) pairs in guest memory; handles
// are i64; status results are 0 for success and -1 for failure.
var hostFuncs = []hostFunc{
	{name: "get_version", results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.GetVersion())
	}},
	{name: "find_class", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64}, fn: func(env bridge.Env, mod api.Module, stack []uint64) {
		name, ok := readGuest(env, mod, stack[0], stack[1])
		if !ok {
			stack[0] = 0
			return
		}
		stack[0] = uint64(env.FindClass(string(name)))
	}},
	{name: "get_object_class", params: []api.ValueType{i64}, results: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.GetObjectClass(managed.Handle(stack[0])))
	}},
	{name: "is_same_object", params: []api.ValueType{i64, i64}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = b2u(env.IsSameObject(managed.Handle(stack[0]), managed.Handle(stack[1])))
	}},
	{name: "new_local_ref", params: []api.ValueType{i64}, results: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.NewLocalRef(managed.Handle(stack[0])))
	}},
	{name: "delete_local_ref", params: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		env.DeleteLocalRef(managed.Handle(stack[0]))
	}},
	{name: "new_global_ref", params: []api.ValueType{i64}, results: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.NewGlobalRef(managed.Handle(stack[0])))
	}},
	{name: "delete_global_ref", params: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		env.DeleteGlobalRef(managed.Handle(stack[0]))
	}},
	{name: "push_local_frame", params: []api.ValueType{i32}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = status(env.PushLocalFrame(int(int32(stack[0]))))
	}},
	{name: "pop_local_frame", params: []api.ValueType{i64}, results: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.PopLocalFrame(managed.Handle(stack[0])))
	}},
	{name: "ensure_local_capacity", params: []api.ValueType{i32}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = status(env.EnsureLocalCapacity(int(int32(stack[0]))))
	}},
	{name: "throw", params: []api.ValueType{i64}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = status(env.Throw(managed.Handle(stack[0])))
	}},
	{name: "throw_new", params: []api.ValueType{i64, i32, i32}, results: []api.ValueType{i32}, fn: func(env bridge.Env, mod api.Module, stack []uint64) {
		msg, ok := readGuest(env, mod, stack[1], stack[2])
		if !ok {
			stack[0] = failed
			return
		}
		stack[0] = status(env.ThrowNew(managed.Handle(stack[0]), string(msg)))
	}},
	{name: "exception_occurred", results: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.ExceptionOccurred())
	}},
	{name: "exception_check", results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = b2u(env.ExceptionCheck())
	}},
	{name: "exception_clear", fn: func(env bridge.Env, _ api.Module, _ []uint64) {
		env.ExceptionClear()
	}},
	{name: "fatal_error", params: []api.ValueType{i32, i32}, fn: func(env bridge.Env, mod api.Module, stack []uint64) {
		msg, _ := readGuest(env, mod, stack[0], stack[1])
		env.FatalError(string(msg))
	}},
	{name: "monitor_enter", params: []api.ValueType{i64}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = status(env.MonitorEnter(managed.Handle(stack[0])))
	}},
	{name: "monitor_exit", params: []api.ValueType{i64}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = status(env.MonitorExit(managed.Handle(stack[0])))
	}},
	{name: "new_string_utf", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64}, fn: func(env bridge.Env, mod api.Module, stack []uint64) {
		utf, ok := readGuest(env, mod, stack[0], stack[1])
		if !ok {
			stack[0] = 0
			return
		}
		stack[0] = uint64(env.NewStringUTF(utf))
	}},
	{name: "get_string_length", params: []api.ValueType{i64}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(uint32(env.GetStringLength(managed.Handle(stack[0]))))
	}},
	{name: "get_string_utf_length", params: []api.ValueType{i64}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(uint32(env.GetStringUTFLength(managed.Handle(stack[0]))))
	}},
	// get_string_utf copies at most cap bytes of the string's modified
	// UTF-8 form to dst and returns the full length.
	{name: "get_string_utf", params: []api.ValueType{i64, i32, i32}, results: []api.ValueType{i32}, fn: func(env bridge.Env, mod api.Module, stack []uint64) {
		s := managed.Handle(stack[0])
		utf := env.GetStringUTFChars(s)
		n := len(utf)
		chunk := utf[:min(n, int(uint32(stack[2])))]
		ok := writeGuest(env, mod, stack[1], chunk)
		env.ReleaseStringUTFChars(s, utf)
		if !ok {
			n = -1
		}
		stack[0] = uint64(uint32(int32(n)))
	}},
	{name: "get_array_length", params: []api.ValueType{i64}, results: []api.ValueType{i32}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(uint32(env.GetArrayLength(managed.Handle(stack[0]))))
	}},
	// Kinds are passed as their descriptor character, so 'I' is 0x49.
	{name: "new_primitive_array", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.NewPrimitiveArray(managed.Kind(stack[0]), int(int32(stack[1]))))
	}},
	{name: "get_object_array_element", params: []api.ValueType{i64, i32}, results: []api.ValueType{i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		stack[0] = uint64(env.GetObjectArrayElement(managed.Handle(stack[0]), int(int32(stack[1]))))
	}},
	{name: "set_object_array_element", params: []api.ValueType{i64, i32, i64}, fn: func(env bridge.Env, _ api.Module, stack []uint64) {
		env.SetObjectArrayElement(managed.Handle(stack[0]), int(int32(stack[1])), managed.Handle(stack[2]))
	}},
	// get_array_region(arr, kind, start, n, dst) copies n elements into guest memory.
	{name: "get_array_region", params: []api.ValueType{i64, i32, i32, i32, i32}, fn: func(env bridge.Env, mod api.Module, stack []uint64) {
		kind := managed.Kind(stack[1])
		start, n := int(int32(stack[2])), int(int32(stack[3]))
		if n < 0 || !kind.IsPrimitive() {
			env.GetArrayRegion(managed.Handle(stack[0]), kind, start, n, nil)
			return
		}
		buf := make([]byte, n*kind.Width())
		env.GetArrayRegion(managed.Handle(stack[0]), kind, start, n, buf)
		if !env.ExceptionCheck() {
			writeGuest(env, mod, stack[4], buf)
		}
	}},
	// set_array_region(arr, kind, start, n, src) copies n elements from guest memory.
	{name: "set_array_region", params: []api.ValueType{i64, i32, i32, i32, i32}, fn: func(env bridge.Env, mod api.Module, stack []uint64) {
		kind := managed.Kind(stack[1])
		start, n := int(int32(stack[2])), int(int32(stack[3]))
		if n < 0 || !kind.IsPrimitive() {
			env.SetArrayRegion(managed.Handle(stack[0]), kind, start, n, nil)
			return
		}
		buf, ok := readGuest(env, mod, stack[4], uint64(n*kind.Width()))
		if !ok {
			return
		}
		env.SetArrayRegion(managed.Handle(stack[0]), kind, start, n, buf)
	}},
}

// InstantiateHost adds the bridge host module to r.
func InstantiateHost(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(HostModuleName)
	for _, h := range hostFuncs {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(h.handler(), h.params, h.results).
			WithName(h.name).
			Export(h.name)
	}
	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.New(errors.PhaseLibrary, errors.KindRegistration).
			Op("InstantiateHost").
			Cause(err).
			Detail("instantiate %s host module", HostModuleName).
			Build()
	}
	return mod, nil
}

// HostFunctionNames lists the exports of the host module.
func HostFunctionNames() []string {
	names := make([]string, len(hostFuncs))
	for i, h := range hostFuncs {
		names[i] = h.name
	}
	return names
}

func (h hostFunc) handler() api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		env, ok := EnvFrom(ctx)
		if !ok {
			panic(errNoEnv)
		}
		h.fn(env, mod, stack)
	}
}

// readGuest returns a copy of guest memory. An access outside memory
// leaves ArrayIndexOutOfBoundsException pending.
func readGuest(env bridge.Env, mod api.Module, ptr, n uint64) ([]byte, bool) {
	mem := mod.Memory()
	if mem != nil {
		if b, ok := mem.Read(uint32(ptr), uint32(n)); ok {
			return append([]byte(nil), b...), true
		}
	}
	guestFault(env, ptr, n, mem)
	return nil, false
}

func writeGuest(env bridge.Env, mod api.Module, ptr uint64, data []byte) bool {
	mem := mod.Memory()
	if mem != nil && mem.Write(uint32(ptr), data) {
		return true
	}
	guestFault(env, ptr, uint64(len(data)), mem)
	return false
}

func guestFault(env bridge.Env, ptr, n uint64, mem api.Memory) {
	size := uint32(0)
	if mem != nil {
		size = mem.Size()
	}
	env.Thread().ThrowNew(managed.BoundsError,
		fmt.Sprintf("guest range [%d, %d) outside memory of %d bytes", uint32(ptr), uint64(uint32(ptr))+n, size))
}

// failed is -1 as an i32 result.
const failed = uint64(0xffffffff)

func status(err error) uint64 {
	if err != nil {
		return failed
	}
	return 0
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
