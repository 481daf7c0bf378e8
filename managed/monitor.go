package managed

import "github.com/wippyai/native-bridge/errors"

type monitor struct {
	owner int
	count int
}

// MonitorEnter acquires the object's monitor for thread tid, blocking while
// another thread owns it. Monitors are recursive.
func (h *Heap) MonitorEnter(ref Handle, tid int) error {
	if !h.Live(ref) {
		return errors.New(errors.PhaseThread, errors.KindInvalidRef).
			Op("MonitorEnter").
			Handle(uint64(ref)).
			Detail("%s is not a live object", ref).
			Build()
	}

	h.monMu.Lock()
	defer h.monMu.Unlock()
	for {
		m := h.monitors[ref]
		if m == nil {
			h.monitors[ref] = &monitor{owner: tid, count: 1}
			return nil
		}
		if m.owner == tid {
			m.count++
			return nil
		}
		h.monCond.Wait()
	}
}

// MonitorExit releases one level of the object's monitor.
func (h *Heap) MonitorExit(ref Handle, tid int) error {
	h.monMu.Lock()
	defer h.monMu.Unlock()

	m := h.monitors[ref]
	if m == nil || m.owner != tid {
		return errors.New(errors.PhaseThread, errors.KindUnbalanced).
			Op("MonitorExit").
			Thread(tid).
			Handle(uint64(ref)).
			Detail("thread %d does not own %s", tid, ref).
			Build()
	}
	m.count--
	if m.count == 0 {
		delete(h.monitors, ref)
		h.monCond.Broadcast()
	}
	return nil
}

// MonitorOwner returns the owning thread and recursion count, or 0, 0 if
// the monitor is free.
func (h *Heap) MonitorOwner(ref Handle) (tid, count int) {
	h.monMu.Lock()
	defer h.monMu.Unlock()
	if m := h.monitors[ref]; m != nil {
		return m.owner, m.count
	}
	return 0, 0
}
