package bridge

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
	"github.com/wippyai/native-bridge/reftable"
)

// localFrame is one pushed local scope. Implicit frames belong to a native
// invocation and can only be popped by the call bridge.
type localFrame struct {
	seg      reftable.Segment
	implicit bool
}

// AddLocal records h as a local reference in the current frame. Null is
// returned unchanged. Overflowing the per-thread maximum is an allocation
// failure, not a fatal one.
func (tc *ThreadContext) AddLocal(h managed.Handle) (managed.Handle, error) {
	if h == 0 {
		return 0, nil
	}
	if _, err := tc.locals.Add(h); err != nil {
		return 0, errors.New(errors.PhaseLocal, errors.KindAllocation).
			Class(errors.ClassExhaustion).
			Op("NewLocalRef").
			Thread(tc.tid).
			Handle(uint64(h)).
			Cause(err).
			Detail("local reference table overflow (max=%d)", tc.locals.Max()).
			Build()
	}
	return h, nil
}

// DeleteLocal removes the most recent local entry for h in the current
// frame. It reports false if h is not a local there; the frame's eventual
// pop cleans up anything native code forgets.
func (tc *ThreadContext) DeleteLocal(h managed.Handle) bool {
	return tc.locals.Remove(tc.locals.Floor(), h)
}

// IsLocal reports whether h is a live local reference of this thread.
func (tc *ThreadContext) IsLocal(h managed.Handle) bool {
	return tc.locals.Contains(h)
}

// LocalCount returns the number of live local references.
func (tc *ThreadContext) LocalCount() int { return tc.locals.Len() }

// FrameDepth returns the number of pushed frames, implicit ones included.
func (tc *ThreadContext) FrameDepth() int { return len(tc.frames) }

// EnsureCapacity makes room for n more locals. Asking for more than the
// per-thread maximum allows is a recoverable allocation error.
func (tc *ThreadContext) EnsureCapacity(n int) error {
	if n < 0 {
		return errors.New(errors.PhaseLocal, errors.KindInvalidInput).
			Op("EnsureLocalCapacity").
			Thread(tc.tid).
			Value(n).
			Detail("negative capacity %d", n).
			Build()
	}
	if need := tc.locals.Len() + n; need > tc.locals.Max() {
		err := errors.Allocation(errors.PhaseLocal, "EnsureLocalCapacity",
			fmt.Sprintf("%d more locals would exceed maximum %d (%d live)", n, tc.locals.Max(), tc.locals.Len()))
		err.Thread = tc.tid
		return err
	}
	for tc.locals.Capacity()-tc.locals.Top() < n && tc.locals.Grow() {
	}
	return nil
}

// PushFrame starts a new local scope with room for capacity references.
func (tc *ThreadContext) PushFrame(capacity int) error {
	if err := tc.EnsureCapacity(capacity); err != nil {
		return err
	}
	tc.frames = append(tc.frames, localFrame{seg: tc.locals.PushSegment()})
	return nil
}

// PopFrame discards the innermost explicit frame and every local created
// in it. result, if not null, survives as a local of the parent frame and
// is returned. Popping with no explicit frame pushed is fatal.
func (tc *ThreadContext) PopFrame(result managed.Handle) managed.Handle {
	n := len(tc.frames)
	if n == 0 || tc.frames[n-1].implicit {
		err := errors.StackDiscipline("PopLocalFrame", "no local frame to pop")
		err.Thread = tc.tid
		tc.bridge.fatal(err)
	}
	tc.popTop("PopLocalFrame")

	if result == 0 {
		return 0
	}
	h, err := tc.AddLocal(result)
	if err != nil {
		tc.throwOOM(err)
		return 0
	}
	return h
}

func (tc *ThreadContext) pushImplicitFrame() {
	tc.frames = append(tc.frames, localFrame{seg: tc.locals.PushSegment(), implicit: true})
}

// popImplicitFrame unwinds to and including the innermost implicit frame.
// It returns the number of explicit frames native code left behind.
func (tc *ThreadContext) popImplicitFrame() int {
	leaked := 0
	for len(tc.frames) > 0 {
		implicit := tc.frames[len(tc.frames)-1].implicit
		tc.popTop("PopLocalFrame")
		if implicit {
			return leaked
		}
		leaked++
	}
	return leaked
}

func (tc *ThreadContext) popTop(op string) {
	f := tc.frames[len(tc.frames)-1]
	tc.frames = tc.frames[:len(tc.frames)-1]
	if err := tc.locals.PopSegment(f.seg); err != nil {
		be := asError(err)
		be.Op = op
		be.Thread = tc.tid
		tc.bridge.fatal(be)
	}
}

// asError converts any error to *errors.Error.
func asError(err error) *errors.Error {
	var be *errors.Error
	if stderrors.As(err, &be) {
		return be
	}
	return errors.Wrap(errors.PhaseCall, errors.KindInvalidInput, err, err.Error())
}
