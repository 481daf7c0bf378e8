package reftable

import (
	"github.com/wippyai/native-bridge/errors"
)

// compactMinSegment is the smallest segment that is worth compacting on remove.
const compactMinSegment = 16

// Segment captures the table state at the time a scope was entered.
// Restoring it releases every entry added after the capture.
type Segment struct {
	top           int
	holes         int
	prevFloor     int
	prevBaseHoles int
}

// Top returns the table index the segment starts at.
func (s Segment) Top() int {
	return s.top
}

// Table is a growable array of tracked handles split into stacked segments.
//
// Entries in [0, Top) are either live handles or holes (the zero value of H).
// Only the current segment, [Floor, Top), is ever modified. Table is not safe
// for concurrent use; owners either confine it to one thread or guard it.
type Table[H comparable] struct {
	name      string
	entries   []H
	top       int
	holes     int
	floor     int
	baseHoles int
	max       int
}

// New creates a table with the given initial and maximum capacity.
func New[H comparable](name string, initial, max int) *Table[H] {
	if initial <= 0 {
		initial = 1
	}
	if max < initial {
		max = initial
	}
	return &Table[H]{
		name:    name,
		entries: make([]H, initial),
		max:     max,
	}
}

// Name returns the table's diagnostic name.
func (t *Table[H]) Name() string { return t.name }

// Len returns the number of live entries.
func (t *Table[H]) Len() int { return t.top - t.holes }

// Top returns the index one past the last used slot.
func (t *Table[H]) Top() int { return t.top }

// Floor returns the start of the current segment.
func (t *Table[H]) Floor() int { return t.floor }

// Capacity returns the number of allocated slots.
func (t *Table[H]) Capacity() int { return len(t.entries) }

// Max returns the hard capacity ceiling.
func (t *Table[H]) Max() int { return t.max }

// SegmentLen returns the number of live entries in the current segment.
func (t *Table[H]) SegmentLen() int {
	return (t.top - t.floor) - (t.holes - t.baseHoles)
}

// Add appends h to the current segment and returns its index.
// A full table is compacted or grown first; if neither frees a slot
// a table_full error is returned.
func (t *Table[H]) Add(h H) (int, error) {
	var zero H
	if h == zero {
		return -1, errors.InvalidInput(errors.PhaseRefTable, "cannot add null reference to "+t.name+" table")
	}

	if t.top == len(t.entries) {
		if t.holes > t.baseHoles {
			t.Compact()
		}
		if t.top == len(t.entries) && !t.Grow() {
			return -1, errors.TableFull(errors.PhaseRefTable, t.name, t.max)
		}
	}

	idx := t.top
	t.entries[idx] = h
	t.top++
	return idx, nil
}

// Remove deletes the most recently added entry equal to h at or above floor.
// Entries below the current segment floor are never touched. Removing the
// top entry is O(1); removing deeper entries leaves a hole.
func (t *Table[H]) Remove(floor int, h H) bool {
	var zero H
	if h == zero {
		return false
	}
	floor = max(floor, t.floor)

	for i := t.top - 1; i >= floor; i-- {
		if t.entries[i] != h {
			continue
		}

		if i == t.top-1 {
			t.entries[i] = zero
			t.top--
			t.trimHoles()
			return true
		}

		t.entries[i] = zero
		t.holes++
		if seg := t.top - t.floor; seg >= compactMinSegment && (t.holes-t.baseHoles)*2 > seg {
			t.Compact()
		}
		return true
	}
	return false
}

// Find reports the index of the most recently added entry equal to h at or above floor.
func (t *Table[H]) Find(floor int, h H) (int, bool) {
	var zero H
	if h == zero {
		return -1, false
	}
	if floor < 0 {
		floor = 0
	}
	for i := t.top - 1; i >= floor; i-- {
		if t.entries[i] == h {
			return i, true
		}
	}
	return -1, false
}

// Contains reports whether h is live anywhere in the table.
func (t *Table[H]) Contains(h H) bool {
	_, ok := t.Find(0, h)
	return ok
}

// Grow doubles the capacity, capped at the maximum. It reports whether
// any slots were added.
func (t *Table[H]) Grow() bool {
	cur := len(t.entries)
	if cur >= t.max {
		return false
	}
	next := min(cur*2, t.max)
	grown := make([]H, next)
	copy(grown, t.entries[:t.top])
	t.entries = grown
	return true
}

// Compact squeezes the holes out of the current segment, preserving order.
func (t *Table[H]) Compact() {
	var zero H
	j := t.floor
	for i := t.floor; i < t.top; i++ {
		if t.entries[i] == zero {
			continue
		}
		t.entries[j] = t.entries[i]
		j++
	}
	for i := j; i < t.top; i++ {
		t.entries[i] = zero
	}
	t.top = j
	t.holes = t.baseHoles
}

// PushSegment starts a new segment at the current top.
func (t *Table[H]) PushSegment() Segment {
	seg := Segment{
		top:           t.top,
		holes:         t.holes,
		prevFloor:     t.floor,
		prevBaseHoles: t.baseHoles,
	}
	t.floor = t.top
	t.baseHoles = t.holes
	return seg
}

// PopSegment releases every entry added since seg was pushed. The freed
// range is not walked. seg must be the innermost live segment.
func (t *Table[H]) PopSegment(seg Segment) error {
	if seg.top != t.floor || seg.top > t.top || seg.holes != t.baseHoles {
		return errors.New(errors.PhaseRefTable, errors.KindStackDiscipline).
			Class(errors.ClassIntegrity).
			Detail("%s table: segment at %d is not the innermost (floor=%d top=%d)", t.name, seg.top, t.floor, t.top).
			Build()
	}
	t.top = seg.top
	t.holes = seg.holes
	t.floor = seg.prevFloor
	t.baseHoles = seg.prevBaseHoles
	return nil
}

// Each calls fn for every live entry from the bottom of the table up.
func (t *Table[H]) Each(fn func(index int, h H) bool) {
	var zero H
	for i := 0; i < t.top; i++ {
		if t.entries[i] == zero {
			continue
		}
		if !fn(i, t.entries[i]) {
			return
		}
	}
}

// Reset drops every entry and segment.
func (t *Table[H]) Reset() {
	clear(t.entries)
	t.top = 0
	t.holes = 0
	t.floor = 0
	t.baseHoles = 0
}

func (t *Table[H]) trimHoles() {
	var zero H
	for t.top > t.floor && t.entries[t.top-1] == zero {
		t.top--
		t.holes--
	}
}
