package bridge

import (
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// Token records the status a thread had before entering the bridge.
type Token struct {
	tc   *ThreadContext
	prev ThreadStatus
}

// Enter marks the thread as running bridge bookkeeping.
func (tc *ThreadContext) Enter() Token {
	prev := tc.Status()
	tc.setStatus(StatusRunning)
	return Token{tc: tc, prev: prev}
}

// Exit restores the status saved by Enter.
func (t Token) Exit() {
	t.tc.setStatus(t.prev)
}

// MarshalArgs flattens a receiver and tagged arguments into the native
// word layout, checking each argument against the shorty.
func MarshalArgs(shorty string, receiver managed.Handle, args []managed.Value) ([]uint64, error) {
	if len(shorty) == 0 {
		return nil, errors.InvalidInput(errors.PhaseCall, "empty shorty")
	}
	if len(args) != len(shorty)-1 {
		return nil, errors.New(errors.PhaseCall, errors.KindTypeMismatch).
			Value(len(args)).
			Detail("shorty %s takes %d arguments, got %d", shorty, len(shorty)-1, len(args)).
			Build()
	}
	words := make([]uint64, len(shorty))
	words[0] = uint64(receiver)
	for i, a := range args {
		want := managed.Kind(shorty[i+1])
		if a.Kind() != want {
			return nil, errors.New(errors.PhaseCall, errors.KindTypeMismatch).
				Value(i).
				Detail("argument %d: declared %s, got %s", i, want, a.Kind()).
				Build()
		}
		words[i+1] = a.Bits()
	}
	return words, nil
}

// Invoke calls the native implementation of m on tc. this is the receiver
// for instance methods and is ignored for static ones. Unresolvable natives
// leave UnsatisfiedLinkError pending. An exception left pending by native
// code is not an error here: it stays on the thread for the caller.
func (b *Bridge) Invoke(tc *ThreadContext, m *managed.Method, this managed.Handle, args ...managed.Value) (managed.Value, error) {
	nb, err := b.resolve(m)
	if err != nil {
		tc.ThrowNew(managed.LinkError, asError(err).Detail)
		return managed.VoidValue(), err
	}

	receiver := this
	if m.Static {
		receiver = m.Class.Handle()
	} else if receiver == 0 {
		return managed.VoidValue(), errors.New(errors.PhaseCall, errors.KindInvalidRef).
			Op("Invoke").
			Thread(tc.tid).
			Detail("null receiver for %s", m).
			Build()
	}

	words, err := MarshalArgs(nb.shorty, receiver, args)
	if err != nil {
		be := asError(err)
		be.Op = "Invoke"
		be.Thread = tc.tid
		return managed.VoidValue(), be
	}

	ret := b.call(tc, nb, words)
	return managed.FromBits(managed.Kind(nb.shorty[0]), ret), nil
}

// call is the trampoline: it brackets the native function with status
// transitions and an implicit local frame holding the receiver and every
// reference argument, and takes the monitor for synchronized methods.
func (b *Bridge) call(tc *ThreadContext, nb *nativeBinding, words []uint64) uint64 {
	tok := tc.Enter()
	defer tok.Exit()

	checked := tc.Checked()
	tc.pushImplicitFrame()
	defer func() {
		if leaked := tc.popImplicitFrame(); leaked > 0 && checked {
			b.report(tc, errors.New(errors.PhaseLocal, errors.KindUnbalanced).
				Op(nb.method.String()).
				Thread(tc.tid).
				Detail("native method returned with %d local frames still pushed", leaked).
				Build())
		}
	}()

	for i, k := range nb.shorty {
		if i > 0 && managed.Kind(k) != managed.Reference {
			continue
		}
		if _, err := tc.AddLocal(managed.Handle(words[i])); err != nil {
			tc.throwOOM(err)
			return 0
		}
	}

	if nb.method.Synchronized {
		lock := managed.Handle(words[0])
		if err := tc.MonitorEnter(lock); err != nil {
			tc.ThrowNew(managed.MonitorError, err.Error())
			return 0
		}
		defer func() {
			if err := tc.MonitorExit(lock); err != nil {
				b.report(tc, asError(err))
			}
		}()
	}

	if b.opts.Verbose {
		b.log.Debug("invoking native",
			zap.Int("thread", tc.tid),
			zap.Stringer("method", nb.method),
			zap.String("shorty", nb.shorty),
		)
	}

	env := tc.Env()
	tc.setStatus(StatusNative)
	ret := nb.fn(env, words)
	tc.setStatus(StatusRunning)

	if checked && managed.Kind(nb.shorty[0]) == managed.Reference && ret != 0 && !tc.ExceptionCheck() {
		b.checkReturn(tc, nb, managed.Handle(ret))
	}
	return ret
}

// checkReturn validates a reference returned by native code while its
// frame is still live.
func (b *Bridge) checkReturn(tc *ThreadContext, nb *nativeBinding, ret managed.Handle) {
	op := nb.method.String()
	if !tc.IsLocal(ret) && !b.IsGlobal(ret) {
		b.report(tc, errors.InvalidRef(op, uint64(ret), "native method returned an invalid reference"))
		return
	}
	if err := b.CheckReturnType(nb.sig.Return, ret); err != nil {
		err.Op = op
		b.report(tc, err)
	}
}

// CheckReturnType compares the declared return type of a method with the
// runtime class of the object actually returned. It returns nil when they
// agree or actual is null.
func (b *Bridge) CheckReturnType(declared Type, actual managed.Handle) *errors.Error {
	if actual == 0 || declared.Kind != managed.Reference {
		return nil
	}
	got, ok := b.heap.ClassOf(actual)
	if !ok {
		return errors.InvalidRef("CheckReturnType", uint64(actual), "returned object is not live")
	}
	want, ok := b.heap.FindClass(declared.Class)
	if !ok || !got.IsAssignableTo(want) {
		err := errors.TypeMismatch(errors.PhaseCheck, "CheckReturnType", declared.Class, got.Name())
		err.Handle = uint64(actual)
		return err
	}
	return nil
}
