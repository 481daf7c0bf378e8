package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
	"github.com/wippyai/native-bridge/reftable"
)

// globalTable is the process-wide global reference store. lo and hi are
// diagnostic watermarks that slide by step as the count crosses them.
type globalTable struct {
	mu    sync.Mutex
	table *reftable.Table[managed.Handle]
	lo    int
	hi    int
	step  int
}

func (g *globalTable) init(opts Options) {
	g.table = reftable.New[managed.Handle]("global", min(opts.GlobalInitial, opts.GlobalMax), opts.GlobalMax)
	g.step = opts.GlobalWatermarkStep
	g.lo = 0
	g.hi = g.step
}

// AddGlobal creates a global reference to h. Exceeding the global maximum
// is always fatal: the count of globals can only grow that far through a
// leak.
func (b *Bridge) AddGlobal(h managed.Handle) managed.Handle {
	if h == 0 {
		return 0
	}

	g := &b.globals
	g.mu.Lock()
	if _, err := g.table.Add(h); err != nil {
		g.mu.Unlock()
		b.fatal(errors.New(errors.PhaseGlobal, errors.KindTableFull).
			Class(errors.ClassExhaustion).
			Op("NewGlobalRef").
			Handle(uint64(h)).
			Cause(err).
			Detail("global reference table overflow (max=%d)", g.table.Max()).
			Build())
		return 0
	}
	count := g.table.Len()
	raised := false
	if count > g.hi {
		g.lo = g.hi
		g.hi += g.step
		raised = true
	}
	hi := g.hi
	g.mu.Unlock()

	if raised {
		b.log.Debug("global reference count increased",
			zap.Int("count", count),
			zap.Int("watermark", hi),
		)
	}
	return h
}

// DeleteGlobal removes one global reference to h. It reports false when h
// is not a global reference, which includes a second delete.
func (b *Bridge) DeleteGlobal(h managed.Handle) bool {
	if h == 0 {
		return true
	}

	g := &b.globals
	g.mu.Lock()
	ok := g.table.Remove(0, h)
	count := g.table.Len()
	lowered := false
	if ok && count < g.lo {
		g.hi = g.lo
		g.lo = max(g.lo-g.step, 0)
		lowered = true
	}
	lo := g.lo
	g.mu.Unlock()

	if lowered {
		b.log.Debug("global reference count decreased",
			zap.Int("count", count),
			zap.Int("watermark", lo),
		)
	}
	return ok
}

// IsGlobal reports whether h is held as a global reference.
func (b *Bridge) IsGlobal(h managed.Handle) bool {
	b.globals.mu.Lock()
	defer b.globals.mu.Unlock()
	return b.globals.table.Contains(h)
}

// GlobalCount returns the number of live global references.
func (b *Bridge) GlobalCount() int {
	b.globals.mu.Lock()
	defer b.globals.mu.Unlock()
	return b.globals.table.Len()
}

// Watermarks returns the current low and high global watermarks.
func (b *Bridge) Watermarks() (lo, hi int) {
	b.globals.mu.Lock()
	defer b.globals.mu.Unlock()
	return b.globals.lo, b.globals.hi
}

// MarkAllForGC reports every live global reference to visit. It holds the
// global lock for the whole scan, so visit must not call back into the
// bridge.
func (b *Bridge) MarkAllForGC(visit func(managed.Handle)) {
	b.globals.mu.Lock()
	defer b.globals.mu.Unlock()
	b.globals.table.Each(func(_ int, h managed.Handle) bool {
		visit(h)
		return true
	})
}
