package reftable

import (
	"fmt"
	"io"
	"sort"
)

// dumpTail is the number of most recent entries listed by Dump.
const dumpTail = 10

// Describer names the entry for diagnostics, usually by its class.
type Describer[H comparable] func(h H) string

// ClassCount is one line of a table summary.
type ClassCount struct {
	Name   string
	Count  int
	Unique int
}

// Summarize groups live entries by description, largest groups first.
func (t *Table[H]) Summarize(describe Describer[H]) []ClassCount {
	type group struct {
		count int
		seen  map[H]struct{}
	}
	groups := make(map[string]*group)
	t.Each(func(_ int, h H) bool {
		name := describe(h)
		g := groups[name]
		if g == nil {
			g = &group{seen: make(map[H]struct{})}
			groups[name] = g
		}
		g.count++
		g.seen[h] = struct{}{}
		return true
	})

	out := make([]ClassCount, 0, len(groups))
	for name, g := range groups {
		out = append(out, ClassCount{Name: name, Count: g.count, Unique: len(g.seen)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Dump writes the most recent entries and a per-class summary to w.
func (t *Table[H]) Dump(w io.Writer, describe Describer[H]) {
	fmt.Fprintf(w, "%s reference table dump (live=%d top=%d capacity=%d max=%d):\n",
		t.name, t.Len(), t.top, len(t.entries), t.max)
	if t.Len() == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}

	var zero H
	fmt.Fprintln(w, "  Last entries:")
	shown := 0
	for i := t.top - 1; i >= 0 && shown < dumpTail; i-- {
		if t.entries[i] == zero {
			continue
		}
		fmt.Fprintf(w, "    %5d: %v %s\n", i, t.entries[i], describe(t.entries[i]))
		shown++
	}

	fmt.Fprintln(w, "  Summary:")
	for _, c := range t.Summarize(describe) {
		fmt.Fprintf(w, "    %5d of %s (%d unique)\n", c.Count, c.Name, c.Unique)
	}
}
