package bridge

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// Bridge is the process-wide bridge context. Everything that would
// otherwise be ambient state lives here: the global and pinned tables,
// the thread list, native registrations, the policy and the current
// invocation table. Create one with New and pass it explicitly.
type Bridge struct {
	heap    *managed.Heap
	log     *zap.Logger
	invoker atomic.Pointer[invokerBinding]
	opts    Options
	globals globalTable
	pinned  pinTable
	threads threadList
	natives registry

	violations atomic.Uint64
	policy     atomic.Int32
	checked    atomic.Bool
}

type invokerBinding struct {
	inv Invoker
}

// New creates a bridge over heap.
func New(heap *managed.Heap, opts Options) (*Bridge, error) {
	if heap == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "bridge requires a heap")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	b := &Bridge{
		heap: heap,
		log:  opts.Logger,
		opts: opts,
	}
	b.policy.Store(int32(opts.Policy))
	b.globals.init(opts)
	b.pinned.init()
	b.threads.init()
	b.natives.init()
	b.invoker.Store(&invokerBinding{inv: &directInvoker{b: b}})

	if opts.Checked {
		b.EnableChecked()
	}

	b.log.Debug("bridge created",
		zap.String("version", VersionString(opts.Version)),
		zap.Bool("checked", opts.Checked),
		zap.Stringer("policy", opts.Policy),
		zap.Int("global_max", opts.GlobalMax),
		zap.Int("local_max", opts.LocalMax),
	)
	return b, nil
}

// Heap returns the managed heap the bridge runs against.
func (b *Bridge) Heap() *managed.Heap { return b.heap }

// Options returns the effective options.
func (b *Bridge) Options() Options { return b.opts }

// Version returns the interface version the bridge reports.
func (b *Bridge) Version() uint32 { return b.opts.Version }

// Invoker returns the current invocation table.
func (b *Bridge) Invoker() Invoker { return b.invoker.Load().inv }

// Checked reports whether checked mode is on.
func (b *Bridge) Checked() bool { return b.checked.Load() }

// EnableChecked switches the bridge and every attached thread to the
// validating call and invocation tables. It can be called at any time;
// calls already in flight finish on the table they started with. Checked
// mode cannot be turned off again.
func (b *Bridge) EnableChecked() {
	if !b.checked.CompareAndSwap(false, true) {
		return
	}
	b.invoker.Store(&invokerBinding{inv: &checkedInvoker{direct: directInvoker{b: b}}})

	t := &b.threads
	t.mu.Lock()
	for _, tc := range t.byTID {
		tc.bindEnv(true)
	}
	n := len(t.byTID)
	t.mu.Unlock()

	b.log.Info("checked mode enabled", zap.Int("threads", n))
}

// SafeToSuspend reports whether a collector may suspend tc without
// waiting: the thread is executing native code, not bridge bookkeeping.
func (b *Bridge) SafeToSuspend(tc *ThreadContext) bool {
	return tc.Status() == StatusNative
}

// Collect runs the heap collector with every bridge-held reference as a
// root: globals, pinned objects, and each thread's locals, pending
// exception and held monitors. Other threads should be suspended.
func (b *Bridge) Collect() int {
	freed := b.heap.Collect(b.MarkAllForGC, b.MarkPinned, b.markThreads)
	b.log.Debug("collection finished", zap.Int("freed", freed), zap.Int("live", b.heap.Len()))
	return freed
}

// Stats is a point-in-time summary of bridge state.
type Stats struct {
	Policy      Policy
	Violations  uint64
	Threads     int
	Live        int
	Globals     int
	GlobalMax   int
	WatermarkLo int
	WatermarkHi int
	Pinned      int
	Registered  int
	Libraries   int
	Checked     bool
	ShutDown    bool
}

// Stats returns current counters. Each group is read under its own lock.
func (b *Bridge) Stats() Stats {
	s := Stats{
		Policy:     b.Policy(),
		Violations: b.Violations(),
		Checked:    b.Checked(),
		GlobalMax:  b.opts.GlobalMax,
		Pinned:     b.PinnedCount(),
	}

	b.globals.mu.Lock()
	s.Globals = b.globals.table.Len()
	s.WatermarkLo, s.WatermarkHi = b.globals.lo, b.globals.hi
	b.globals.mu.Unlock()

	b.threads.mu.Lock()
	s.Threads = len(b.threads.byTID)
	s.Live = b.threads.live
	s.ShutDown = b.threads.shutdown
	b.threads.mu.Unlock()

	b.natives.mu.RLock()
	s.Registered = len(b.natives.bound)
	s.Libraries = len(b.natives.libs)
	b.natives.mu.RUnlock()
	return s
}
