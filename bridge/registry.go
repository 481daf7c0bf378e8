package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// NativeFunc is the native calling convention. args[0] is the receiver, or
// the class object for static methods; args[1:] are the parameters in
// signature order, one word each, typed by the method's shorty. The result
// word is read according to the return kind; void natives return 0.
type NativeFunc func(env Env, args []uint64) uint64

// NativeMethod is one registration tuple.
type NativeMethod struct {
	Fn        NativeFunc
	Name      string
	Signature string
}

// Library is a loaded native library that can resolve mangled symbols.
type Library interface {
	Name() string
	Lookup(symbol string) (NativeFunc, bool)
}

// OnLoader is implemented by libraries with a load hook. The returned
// version is the interface version the library needs.
type OnLoader interface {
	OnLoad(env Env) (uint32, error)
}

type nativeBinding struct {
	method *managed.Method
	sig    *Signature
	fn     NativeFunc
	shorty string
	symbol string
}

type registry struct {
	mu    sync.RWMutex
	bound map[*managed.Method]*nativeBinding
	libs  []Library
}

func (r *registry) init() {
	r.bound = make(map[*managed.Method]*nativeBinding)
}

// RegisterNatives binds implementations to native methods declared on
// class. It stops at the first bad tuple; earlier tuples stay bound.
func (b *Bridge) RegisterNatives(class *managed.Class, methods []NativeMethod) error {
	if class == nil {
		return errors.InvalidInput(errors.PhaseCall, "RegisterNatives: nil class")
	}
	for _, nm := range methods {
		nb, err := b.bindingFor(class, nm)
		if err != nil {
			return err
		}
		b.natives.mu.Lock()
		b.natives.bound[nb.method] = nb
		b.natives.mu.Unlock()

		if b.opts.Verbose {
			b.log.Debug("registered native", zap.Stringer("method", nb.method), zap.String("shorty", nb.shorty))
		}
	}
	return nil
}

func (b *Bridge) bindingFor(class *managed.Class, nm NativeMethod) (*nativeBinding, error) {
	sig, err := ParseSignature(nm.Signature)
	if err != nil {
		return nil, errors.Registration(class.Name(), nm.Name, nm.Signature, err)
	}
	if nm.Fn == nil {
		return nil, errors.Registration(class.Name(), nm.Name, nm.Signature,
			errors.InvalidInput(errors.PhaseCall, "nil function"))
	}
	m, ok := class.Method(nm.Name, nm.Signature)
	if !ok || m.Class != class {
		return nil, errors.Registration(class.Name(), nm.Name, nm.Signature,
			errors.New(errors.PhaseCall, errors.KindNotFound).Detail("no such method on %s", class.Name()).Build())
	}
	if !m.Native {
		return nil, errors.Registration(class.Name(), nm.Name, nm.Signature,
			errors.InvalidInput(errors.PhaseCall, "method is not declared native"))
	}
	return &nativeBinding{method: m, sig: sig, fn: nm.Fn, shorty: sig.Shorty()}, nil
}

// UnregisterNatives drops every binding of class's methods and returns how
// many were removed. Later calls resolve through loaded libraries again.
func (b *Bridge) UnregisterNatives(class *managed.Class) int {
	b.natives.mu.Lock()
	defer b.natives.mu.Unlock()
	n := 0
	for m := range b.natives.bound {
		if m.Class == class {
			delete(b.natives.bound, m)
			n++
		}
	}
	return n
}

// IsBound reports whether m currently has an implementation.
func (b *Bridge) IsBound(m *managed.Method) bool {
	b.natives.mu.RLock()
	defer b.natives.mu.RUnlock()
	_, ok := b.natives.bound[m]
	return ok
}

// LoadLibrary adds lib to the symbol search path. If the library has a
// load hook it runs on tc and the version it asks for must be supported.
func (b *Bridge) LoadLibrary(tc *ThreadContext, lib Library) error {
	b.natives.mu.Lock()
	for _, l := range b.natives.libs {
		if l.Name() == lib.Name() {
			b.natives.mu.Unlock()
			return nil
		}
	}
	b.natives.libs = append(b.natives.libs, lib)
	b.natives.mu.Unlock()

	if ol, ok := lib.(OnLoader); ok && tc != nil {
		version, err := ol.OnLoad(tc.Env())
		if err == nil && tc.ExceptionCheck() {
			err = errors.New(errors.PhaseLibrary, errors.KindPendingException).
				Handle(uint64(tc.Pending())).
				Detail("exception pending after load hook").
				Build()
		}
		if err == nil {
			err = CheckVersion(version)
		}
		if err != nil {
			b.unloadLibrary(lib)
			return errors.New(errors.PhaseLibrary, errors.KindRegistration).
				Op("JNI_OnLoad").
				Thread(tc.tid).
				Cause(err).
				Detail("load hook of %s failed", lib.Name()).
				Build()
		}
	}

	b.log.Debug("native library loaded", zap.String("library", lib.Name()))
	return nil
}

func (b *Bridge) unloadLibrary(lib Library) {
	b.natives.mu.Lock()
	defer b.natives.mu.Unlock()
	for i, l := range b.natives.libs {
		if l == lib {
			b.natives.libs = append(b.natives.libs[:i], b.natives.libs[i+1:]...)
			return
		}
	}
}

// resolve finds the implementation of m, searching loaded libraries by
// short then long mangled name when nothing was registered.
func (b *Bridge) resolve(m *managed.Method) (*nativeBinding, error) {
	b.natives.mu.RLock()
	nb, ok := b.natives.bound[m]
	libs := b.natives.libs
	b.natives.mu.RUnlock()
	if ok {
		return nb, nil
	}

	if !m.Native {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Op("Invoke").
			Detail("%s is not a native method", m).
			Build()
	}
	sig, err := ParseSignature(m.Signature)
	if err != nil {
		return nil, err
	}

	short := MangleName(m.Class.Name(), m.Name)
	long := MangleLongName(m.Class.Name(), m.Name, sig)
	for _, lib := range libs {
		for _, sym := range []string{short, long} {
			fn, ok := lib.Lookup(sym)
			if !ok {
				continue
			}
			nb := &nativeBinding{method: m, sig: sig, fn: fn, shorty: sig.Shorty(), symbol: sym}
			b.natives.mu.Lock()
			if cur, ok := b.natives.bound[m]; ok {
				nb = cur
			} else {
				b.natives.bound[m] = nb
			}
			b.natives.mu.Unlock()

			if b.opts.Verbose {
				b.log.Debug("resolved native", zap.Stringer("method", m), zap.String("symbol", sym), zap.String("library", lib.Name()))
			}
			return nb, nil
		}
	}

	return nil, errors.New(errors.PhaseCall, errors.KindNotFound).
		Op("Invoke").
		Detail("no implementation found for native %s (tried %s and %s)", m, short, long).
		Build()
}
