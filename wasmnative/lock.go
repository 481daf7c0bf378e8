package wasmnative

import "sync"

// callLock serializes calls into one module instance across bridge threads
// while letting a thread re-enter through a managed callback.
type callLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int
	depth int
}

func newCallLock() *callLock {
	l := &callLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *callLock) lock(tid int) {
	l.mu.Lock()
	for l.depth > 0 && l.owner != tid {
		l.cond.Wait()
	}
	l.owner = tid
	l.depth++
	l.mu.Unlock()
}

func (l *callLock) unlock() {
	l.mu.Lock()
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}
