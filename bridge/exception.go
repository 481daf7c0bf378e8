package bridge

import (
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/managed"
)

// Throw makes obj the thread's pending exception.
func (tc *ThreadContext) Throw(obj managed.Handle) {
	tc.pending = obj
}

// ThrowNew allocates an instance of the named throwable class carrying msg
// and makes it pending. Unknown classes fall back to RuntimeException.
func (tc *ThreadContext) ThrowNew(class, msg string) managed.Handle {
	h := tc.bridge.heap
	c, ok := h.FindClass(class)
	if !ok {
		c, _ = h.FindClass(managed.RuntimeError)
	}
	obj := h.NewThrowable(c, msg)
	tc.pending = obj
	return obj
}

// ExceptionCheck reports whether an exception is pending.
func (tc *ThreadContext) ExceptionCheck() bool { return tc.pending != 0 }

// ExceptionClear drops the pending exception.
func (tc *ThreadContext) ExceptionClear() { tc.pending = 0 }

// throwOOM surfaces an allocation failure to managed code.
func (tc *ThreadContext) throwOOM(err error) {
	tc.bridge.log.Warn("allocation failed", zap.Int("thread", tc.tid), zap.Error(err))
	tc.ThrowNew(managed.OOMError, err.Error())
}
