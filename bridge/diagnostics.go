package bridge

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wippyai/native-bridge/managed"
)

// describe names the object behind h for table dumps.
func (b *Bridge) describe(h managed.Handle) string {
	obj, ok := b.heap.Get(h)
	if !ok {
		return "(stale)"
	}
	switch o := obj.(type) {
	case *managed.ClassObject:
		return managed.ClassClass + "<" + o.Target().Name() + ">"
	case *managed.Array:
		return fmt.Sprintf("%s (%d elements)", o.Class().Name(), o.Len())
	}
	return obj.Class().Name()
}

// Dump writes the state of every thread and table to w. Local tables of
// other threads are read without their owners' cooperation, so the dump
// is only exact when those threads are stopped.
func (b *Bridge) Dump(w io.Writer) {
	s := b.Stats()
	fmt.Fprintf(w, "bridge %s checked=%t policy=%s violations=%d\n",
		VersionString(b.opts.Version), s.Checked, s.Policy, s.Violations)

	b.threads.mu.Lock()
	threads := make([]*ThreadContext, 0, len(b.threads.byTID))
	for _, tc := range b.threads.byTID {
		threads = append(threads, tc)
	}
	b.threads.mu.Unlock()
	sort.Slice(threads, func(i, j int) bool { return threads[i].tid < threads[j].tid })

	fmt.Fprintf(w, "threads: %d attached, %d live\n", len(threads), s.Live)
	for _, tc := range threads {
		fmt.Fprintf(w, "thread %d %q status=%s daemon=%t frames=%d critical=%d monitors=%d pins=%d",
			tc.tid, tc.name, tc.Status(), tc.daemon, len(tc.frames), tc.CriticalDepth(), len(tc.monitors), len(tc.pins))
		if tc.pending != 0 {
			fmt.Fprintf(w, " pending=%s %s", tc.pending, b.describe(tc.pending))
		}
		fmt.Fprintln(w)
		tc.locals.Dump(w, b.describe)
	}

	b.globals.mu.Lock()
	fmt.Fprintf(w, "global watermarks: lo=%d hi=%d\n", b.globals.lo, b.globals.hi)
	b.globals.table.Dump(w, b.describe)
	b.globals.mu.Unlock()

	b.pinned.mu.Lock()
	b.pinned.table.Dump(w, b.describe)
	b.pinned.mu.Unlock()
}

// DumpString returns Dump as a string.
func (b *Bridge) DumpString() string {
	var sb strings.Builder
	b.Dump(&sb)
	return sb.String()
}
