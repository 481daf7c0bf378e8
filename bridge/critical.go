package bridge

import (
	"sync"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
	"github.com/wippyai/native-bridge/reftable"
)

// maxPinned bounds the pinned table. Pins are short-lived, so reaching it
// means native code is not releasing what it gets.
const maxPinned = 1 << 16

// EnterCritical increments the critical depth and returns the new depth.
func (tc *ThreadContext) EnterCritical() int {
	return int(tc.depth.Add(1))
}

// ExitCritical decrements the critical depth. Releasing at depth zero is
// reported and leaves the depth at zero.
func (tc *ThreadContext) ExitCritical() error {
	d := tc.depth.Load()
	if d == 0 {
		return tc.bridge.report(tc, errors.New(errors.PhaseCritical, errors.KindUnbalanced).
			Op("ExitCritical").
			Thread(tc.tid).
			Detail("critical release without matching get").
			Build())
	}
	tc.depth.Store(d - 1)
	return nil
}

// InCritical reports whether the thread holds a critical section.
func (tc *ThreadContext) InCritical() bool { return tc.depth.Load() > 0 }

// CriticalDepth returns the current nesting depth.
func (tc *ThreadContext) CriticalDepth() int { return int(tc.depth.Load()) }

// pinTable tracks objects whose storage native code holds directly.
type pinTable struct {
	mu    sync.Mutex
	table *reftable.Table[managed.Handle]
}

func (p *pinTable) init() {
	p.table = reftable.New[managed.Handle]("pinned", 16, maxPinned)
}

// pin records h in the bridge-wide pinned table and on the thread.
func (tc *ThreadContext) pin(h managed.Handle) {
	b := tc.bridge
	b.pinned.mu.Lock()
	_, err := b.pinned.table.Add(h)
	b.pinned.mu.Unlock()
	if err != nil {
		be := asError(err)
		be.Op = "pin"
		be.Thread = tc.tid
		be.Handle = uint64(h)
		b.fatal(be)
	}
	tc.pins = append(tc.pins, h)
}

// unpin drops the most recent pin of h. It reports false if the thread
// never pinned h.
func (tc *ThreadContext) unpin(h managed.Handle) bool {
	for i := len(tc.pins) - 1; i >= 0; i-- {
		if tc.pins[i] != h {
			continue
		}
		tc.pins = append(tc.pins[:i], tc.pins[i+1:]...)
		b := tc.bridge
		b.pinned.mu.Lock()
		b.pinned.table.Remove(0, h)
		b.pinned.mu.Unlock()
		return true
	}
	return false
}

func (tc *ThreadContext) releasePins() {
	for len(tc.pins) > 0 {
		tc.unpin(tc.pins[len(tc.pins)-1])
	}
}

// IsPinned reports whether any thread has h pinned.
func (b *Bridge) IsPinned(h managed.Handle) bool {
	b.pinned.mu.Lock()
	defer b.pinned.mu.Unlock()
	return b.pinned.table.Contains(h)
}

// PinnedCount returns the number of outstanding pins. A moving collector
// waits for it to reach zero.
func (b *Bridge) PinnedCount() int {
	b.pinned.mu.Lock()
	defer b.pinned.mu.Unlock()
	return b.pinned.table.Len()
}

// MarkPinned reports every pinned object to visit.
func (b *Bridge) MarkPinned(visit func(managed.Handle)) {
	b.pinned.mu.Lock()
	defer b.pinned.mu.Unlock()
	b.pinned.table.Each(func(_ int, h managed.Handle) bool {
		visit(h)
		return true
	})
}
