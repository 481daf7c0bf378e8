package bridge

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
	"github.com/wippyai/native-bridge/reftable"
)

// ThreadStatus is the scheduling status a collector observes.
type ThreadStatus int32

const (
	// StatusRunning means the thread is inside bridge bookkeeping or managed
	// code and must reach a safe point before it can be suspended.
	StatusRunning ThreadStatus = iota
	// StatusNative means the thread is executing native code.
	StatusNative
)

func (s ThreadStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusNative:
		return "native"
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

const (
	stateAttached int32 = iota
	stateDetached
)

// AttachArgs are the optional arguments to AttachCurrentThread.
type AttachArgs struct {
	Name    string
	Group   managed.Handle
	Version uint32
}

// ThreadContext is the per-thread bridge state created by attach and
// destroyed by detach. Everything except the status, state and critical
// depth is confined to the owning thread.
type ThreadContext struct {
	bridge   *Bridge
	locals   *reftable.Table[managed.Handle]
	env      atomic.Pointer[envBinding]
	guards   map[unsafe.Pointer]*guardedBuffer
	name     string
	frames   []localFrame
	monitors []managed.Handle
	pins     []managed.Handle
	pending  managed.Handle
	group    managed.Handle
	tid      int
	status   atomic.Int32
	state    atomic.Int32
	depth    atomic.Int32
	daemon   bool
}

type envBinding struct {
	env     Env
	checked bool
}

func newThreadContext(b *Bridge, tid int, args *AttachArgs, daemon bool) *ThreadContext {
	tc := &ThreadContext{
		bridge: b,
		locals: reftable.New[managed.Handle]("local", min(b.opts.LocalInitial, b.opts.LocalMax), b.opts.LocalMax),
		tid:    tid,
		daemon: daemon,
	}
	if args != nil {
		tc.name = args.Name
		tc.group = args.Group
	}
	if tc.name == "" {
		tc.name = "Thread-" + strconv.Itoa(tid)
	}
	tc.status.Store(int32(StatusNative))
	return tc
}

// bindEnv installs the direct or checked call table. The swap is a single
// pointer store; calls already running keep the table they loaded.
func (tc *ThreadContext) bindEnv(checked bool) {
	direct := &directEnv{tc: tc, b: tc.bridge}
	var env Env = direct
	if checked {
		env = &checkedEnv{direct: direct, tc: tc, b: tc.bridge}
	}
	tc.env.Store(&envBinding{env: env, checked: checked})
}

// Bridge returns the owning bridge.
func (tc *ThreadContext) Bridge() *Bridge { return tc.bridge }

// ID returns the OS thread id the context is bound to.
func (tc *ThreadContext) ID() int { return tc.tid }

// Name returns the thread name given at attach.
func (tc *ThreadContext) Name() string { return tc.name }

// Daemon reports whether the thread was attached as a daemon.
func (tc *ThreadContext) Daemon() bool { return tc.daemon }

// Env returns the call table bound to the thread.
func (tc *ThreadContext) Env() Env { return tc.env.Load().env }

// Checked reports whether the thread uses the checked call table.
func (tc *ThreadContext) Checked() bool { return tc.env.Load().checked }

// Status returns the current scheduling status.
func (tc *ThreadContext) Status() ThreadStatus { return ThreadStatus(tc.status.Load()) }

// Attached reports whether the context is still attached.
func (tc *ThreadContext) Attached() bool { return tc.state.Load() == stateAttached }

// Pending returns the pending exception, or null.
func (tc *ThreadContext) Pending() managed.Handle { return tc.pending }

// Monitors returns the monitors the thread holds, in acquisition order.
func (tc *ThreadContext) Monitors() []managed.Handle {
	return append([]managed.Handle(nil), tc.monitors...)
}

func (tc *ThreadContext) setStatus(s ThreadStatus) {
	tc.status.Store(int32(s))
}

type threadList struct {
	mu       sync.Mutex
	drained  *sync.Cond
	byTID    map[int]*ThreadContext
	live     int
	shutdown bool
}

func (t *threadList) init() {
	t.byTID = make(map[int]*ThreadContext)
	t.drained = sync.NewCond(&t.mu)
}

// Attach binds the calling goroutine's OS thread to a new context. The
// goroutine stays locked to its thread until Detach. Attaching an already
// attached thread returns the existing context unchanged.
func (b *Bridge) Attach(args *AttachArgs) (*ThreadContext, error) {
	return b.attach(args, false, "AttachCurrentThread")
}

// AttachDaemon is Attach for a thread that does not hold up Shutdown.
func (b *Bridge) AttachDaemon(args *AttachArgs) (*ThreadContext, error) {
	return b.attach(args, true, "AttachCurrentThreadAsDaemon")
}

func (b *Bridge) attach(args *AttachArgs, daemon bool, op string) (*ThreadContext, error) {
	runtime.LockOSThread()
	tid := osThreadID()

	t := &b.threads
	t.mu.Lock()
	if tc := t.byTID[tid]; tc != nil {
		t.mu.Unlock()
		runtime.UnlockOSThread()
		return tc, nil
	}
	if t.shutdown && t.live == 0 {
		t.mu.Unlock()
		runtime.UnlockOSThread()
		return nil, errors.New(errors.PhaseThread, errors.KindShutdown).
			Op(op).
			Thread(tid).
			Detail("bridge has shut down").
			Build()
	}

	tc := newThreadContext(b, tid, args, daemon)
	tc.bindEnv(b.checked.Load())
	t.byTID[tid] = tc
	if !daemon {
		t.live++
	}
	live := t.live
	t.mu.Unlock()

	b.log.Debug("thread attached",
		zap.Int("thread", tid),
		zap.String("name", tc.name),
		zap.Bool("daemon", daemon),
		zap.Int("live", live),
	)
	return tc, nil
}

// Current returns the calling thread's context, or nil if it is not attached.
func (b *Bridge) Current() *ThreadContext {
	tid := osThreadID()
	b.threads.mu.Lock()
	defer b.threads.mu.Unlock()
	return b.threads.byTID[tid]
}

// Threads returns the attached contexts.
func (b *Bridge) Threads() []*ThreadContext {
	b.threads.mu.Lock()
	defer b.threads.mu.Unlock()
	out := make([]*ThreadContext, 0, len(b.threads.byTID))
	for _, tc := range b.threads.byTID {
		out = append(out, tc)
	}
	return out
}

// Detach destroys tc. Monitors the thread still holds are released in
// reverse acquisition order, outstanding pins are dropped and every local
// reference goes away. Detaching a context twice, or nil, is reported and
// otherwise ignored.
//
// Detach must run on the thread that attached tc, since only that goroutine
// can be unlocked from its OS thread. A detach from any other thread is
// reported as a wrong_thread violation and leaves tc attached.
func (b *Bridge) Detach(tc *ThreadContext) error {
	return b.detach(tc, "DetachCurrentThread")
}

func (b *Bridge) detach(tc *ThreadContext, op string) error {
	if tc != nil && tc.Attached() {
		if caller := osThreadID(); caller != tc.tid {
			err := errors.New(errors.PhaseThread, errors.KindWrongThread).
				Class(errors.ClassMisuse).
				Op(op).
				Thread(caller).
				Detail("thread %d cannot detach thread %d", caller, tc.tid).
				Build()
			return b.report(b.Current(), err)
		}
	}
	if tc == nil || !tc.state.CompareAndSwap(stateAttached, stateDetached) {
		tid := osThreadID()
		if tc != nil {
			tid = tc.tid
		}
		err := errors.New(errors.PhaseThread, errors.KindNotAttached).
			Op(op).
			Thread(tid).
			Detail("thread is not attached").
			Build()
		b.log.Warn("detach of unattached thread", zap.Int("thread", tid), zap.String("op", op))
		return err
	}

	tc.releaseMonitors()
	tc.releasePins()
	for _, g := range tc.guards {
		g.copy.Free()
	}
	tc.guards = nil
	tc.frames = nil
	tc.locals.Reset()
	tc.pending = 0
	tc.depth.Store(0)

	t := &b.threads
	t.mu.Lock()
	if t.byTID[tc.tid] == tc {
		delete(t.byTID, tc.tid)
	}
	if !tc.daemon {
		t.live--
		if t.live == 0 {
			t.drained.Broadcast()
		}
	}
	live := t.live
	t.mu.Unlock()

	runtime.UnlockOSThread()

	b.log.Debug("thread detached",
		zap.Int("thread", tc.tid),
		zap.String("name", tc.name),
		zap.Int("live", live),
	)
	return nil
}

// Shutdown detaches the calling thread if it is attached, then blocks until
// every non-daemon thread has detached. Once it returns, attach fails.
func (b *Bridge) Shutdown() error {
	if tc := b.Current(); tc != nil {
		if err := b.detach(tc, "DestroyBridge"); err != nil {
			return err
		}
	}

	t := &b.threads
	t.mu.Lock()
	t.shutdown = true
	for t.live > 0 {
		t.drained.Wait()
	}
	daemons := len(t.byTID)
	t.mu.Unlock()

	b.log.Info("bridge shut down", zap.Int("daemon_threads", daemons))
	return nil
}

// markThreads reports every reference held by attached threads.
func (b *Bridge) markThreads(visit func(managed.Handle)) {
	b.threads.mu.Lock()
	defer b.threads.mu.Unlock()
	for _, tc := range b.threads.byTID {
		tc.locals.Each(func(_ int, h managed.Handle) bool {
			visit(h)
			return true
		})
		visit(tc.pending)
		visit(tc.group)
		for _, m := range tc.monitors {
			visit(m)
		}
	}
}
