package bridge

import (
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// MonitorEnter acquires obj's monitor and records it on the thread. The
// thread shows as native while it blocks.
func (tc *ThreadContext) MonitorEnter(obj managed.Handle) error {
	prev := tc.Status()
	tc.setStatus(StatusNative)
	err := tc.bridge.heap.MonitorEnter(obj, tc.tid)
	tc.setStatus(prev)
	if err != nil {
		return errors.New(errors.PhaseThread, errors.KindInvalidRef).
			Op("MonitorEnter").
			Thread(tc.tid).
			Handle(uint64(obj)).
			Cause(err).
			Detail("cannot lock object").
			Build()
	}
	tc.monitors = append(tc.monitors, obj)
	return nil
}

// MonitorExit releases one level of obj's monitor and drops the most
// recent matching record.
func (tc *ThreadContext) MonitorExit(obj managed.Handle) error {
	if err := tc.bridge.heap.MonitorExit(obj, tc.tid); err != nil {
		return errors.New(errors.PhaseThread, errors.KindUnbalanced).
			Op("MonitorExit").
			Thread(tc.tid).
			Handle(uint64(obj)).
			Cause(err).
			Detail("thread does not own the monitor").
			Build()
	}
	for i := len(tc.monitors) - 1; i >= 0; i-- {
		if tc.monitors[i] == obj {
			tc.monitors = append(tc.monitors[:i], tc.monitors[i+1:]...)
			break
		}
	}
	return nil
}

// releaseMonitors force-unlocks every monitor still held, newest first.
func (tc *ThreadContext) releaseMonitors() {
	for i := len(tc.monitors) - 1; i >= 0; i-- {
		obj := tc.monitors[i]
		if err := tc.bridge.heap.MonitorExit(obj, tc.tid); err != nil {
			tc.bridge.log.Warn("force unlock failed", zap.Int("thread", tc.tid), zap.Stringer("handle", obj), zap.Error(err))
			continue
		}
		tc.bridge.log.Debug("unlocked monitor on detach", zap.Int("thread", tc.tid), zap.Stringer("handle", obj))
	}
	tc.monitors = nil
}
