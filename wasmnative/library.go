// Package wasmnative runs native method implementations as WebAssembly.
//
// A Library wraps an instantiated wazero module and resolves the bridge's
// mangled symbol names against its exports. The module may be compiled
// guest code or a host module built with NewHostModuleBuilder; wazero does
// not hand out callable exports of host modules, so their Go
// implementations are called directly. Each export takes the bridge's
// argument words as parameters: the receiver (or class object) first, then
// the declared parameters. References travel as i64 handles.
//
// While a native export runs, its context carries the calling thread's
// bridge.Env. The "jni" host module built by InstantiateHost uses it to
// give guest code access to bridge operations.
package wasmnative

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// OnLoadExport is the optional load hook export. It returns the interface
// version the library needs.
const OnLoadExport = "JNI_OnLoad"

// Library is a bridge.Library backed by a wazero module instance.
type Library struct {
	mod  api.Module
	lock *callLock
	name string
}

// NewLibrary wraps an instantiated module. The module's name is the
// library name.
func NewLibrary(mod api.Module) *Library {
	name := mod.Name()
	if name == "" {
		name = "wasm"
	}
	return &Library{mod: mod, name: name, lock: newCallLock()}
}

// Load instantiates the host module if r does not have it yet, then
// compiles and instantiates wasm under name.
func Load(ctx context.Context, r wazero.Runtime, name string, wasm []byte) (*Library, error) {
	if r.Module(HostModuleName) == nil {
		if _, err := InstantiateHost(ctx, r); err != nil {
			return nil, err
		}
	}
	mod, err := r.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.New(errors.PhaseLibrary, errors.KindRegistration).
			Op("Load").
			Cause(err).
			Detail("instantiate native library %s", name).
			Build()
	}
	Logger().Debug("native library instantiated",
		zap.String("library", name),
		zap.Int("exports", len(mod.ExportedFunctionDefinitions())))
	return NewLibrary(mod), nil
}

// Name returns the library name.
func (l *Library) Name() string { return l.name }

// Module returns the wrapped module instance.
func (l *Library) Module() api.Module { return l.mod }

// Close closes the module instance.
func (l *Library) Close(ctx context.Context) error { return l.mod.Close(ctx) }

// Lookup resolves symbol to an exported function. Exports with more than
// one result cannot be natives.
func (l *Library) Lookup(symbol string) (bridge.NativeFunc, bool) {
	def, ok := l.mod.ExportedFunctionDefinitions()[symbol]
	if !ok {
		return nil, false
	}
	if len(def.ResultTypes()) > 1 {
		Logger().Debug("export has multiple results",
			zap.String("library", l.name),
			zap.String("symbol", symbol))
		return nil, false
	}
	return l.native(symbol, def), true
}

func (l *Library) native(symbol string, def api.FunctionDefinition) bridge.NativeFunc {
	params := def.ParamTypes()
	return func(env bridge.Env, args []uint64) uint64 {
		tc := env.Thread()
		if len(args) != len(params) {
			tc.ThrowNew(managed.LinkError, fmt.Sprintf("%s takes %d words, called with %d", symbol, len(params), len(args)))
			return 0
		}

		words := make([]uint64, len(args))
		for i, t := range params {
			w := args[i]
			if t == api.ValueTypeI32 || t == api.ValueTypeF32 {
				w = uint64(uint32(w))
			}
			words[i] = w
		}

		l.lock.lock(tc.ID())
		defer l.lock.unlock()

		res, err := l.call(WithEnv(context.Background(), env), symbol, def, words)
		if err != nil {
			abortIfFatal(err)
			Logger().Debug("native export trapped",
				zap.String("library", l.name),
				zap.String("symbol", symbol),
				zap.Error(err))
			if !tc.ExceptionCheck() {
				tc.ThrowNew(managed.RuntimeError, fmt.Sprintf("%s: %v", symbol, err))
			}
			return 0
		}
		if len(res) == 0 {
			return 0
		}
		return res[0]
	}
}

// call runs the export described by def. Guest exports go through a fresh
// api.Function per call, which keeps re-entrant calls on separate call
// stacks. Host exports run their Go implementation on a local stack.
func (l *Library) call(ctx context.Context, symbol string, def api.FunctionDefinition, words []uint64) ([]uint64, error) {
	switch fn := def.GoFunction().(type) {
	case nil:
		return l.mod.ExportedFunction(symbol).Call(ctx, words...)
	case api.GoModuleFunction:
		return callHost(symbol, def, words, func(stack []uint64) { fn.Call(ctx, l.mod, stack) })
	case api.GoFunction:
		return callHost(symbol, def, words, func(stack []uint64) { fn.Call(ctx, stack) })
	default:
		return nil, fmt.Errorf("%s: unsupported host function %T", symbol, fn)
	}
}

// callHost runs a host implementation the way wazero would: a panic other
// than a bridge abort becomes an error.
func callHost(symbol string, def api.FunctionDefinition, words []uint64, run func([]uint64)) (res []uint64, err error) {
	stack := make([]uint64, max(len(def.ParamTypes()), len(def.ResultTypes())))
	copy(stack, words)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fe, ok := r.(*bridge.FatalError); ok {
			panic(fe)
		}
		if e, ok := r.(error); ok {
			err = fmt.Errorf("%s: %w", symbol, e)
			return
		}
		err = fmt.Errorf("%s: %v", symbol, r)
	}()

	run(stack)
	return stack[:len(def.ResultTypes())], nil
}

// OnLoad runs the module's load hook. A module without one needs only the
// oldest interface version.
func (l *Library) OnLoad(env bridge.Env) (uint32, error) {
	def, ok := l.mod.ExportedFunctionDefinitions()[OnLoadExport]
	if !ok {
		return bridge.Version1_1, nil
	}
	if len(def.ResultTypes()) != 1 {
		return 0, errors.New(errors.PhaseLibrary, errors.KindRegistration).
			Op(OnLoadExport).
			Detail("%s of %s must return one value, returns %d", OnLoadExport, l.name, len(def.ResultTypes())).
			Build()
	}

	l.lock.lock(env.Thread().ID())
	defer l.lock.unlock()

	res, err := l.call(WithEnv(context.Background(), env), OnLoadExport, def, make([]uint64, len(def.ParamTypes())))
	if err != nil {
		abortIfFatal(err)
		return 0, errors.New(errors.PhaseLibrary, errors.KindRegistration).
			Op(OnLoadExport).
			Cause(err).
			Detail("%s of %s trapped", OnLoadExport, l.name).
			Build()
	}
	return uint32(res[0]), nil
}

// abortIfFatal re-raises a bridge abort that wazero recovered from a host
// function, so it is not mistaken for a guest trap.
func abortIfFatal(err error) {
	var fe *bridge.FatalError
	if stderrors.As(err, &fe) {
		panic(fe)
	}
}
