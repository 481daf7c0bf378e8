package reftable

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/native-bridge/errors"
)

type ref uint64

func TestTable_AddFindRemove(t *testing.T) {
	tbl := New[ref]("local", 4, 16)

	for i := ref(1); i <= 3; i++ {
		idx, err := tbl.Add(i)
		if err != nil {
			t.Fatalf("Add(%d) failed: %v", i, err)
		}
		if idx != int(i-1) {
			t.Fatalf("Add(%d) index = %d, want %d", i, idx, i-1)
		}
	}

	if _, ok := tbl.Find(0, 2); !ok {
		t.Fatal("expected to find 2")
	}
	if !tbl.Remove(0, 3) {
		t.Fatal("Remove(3) failed")
	}
	if tbl.Top() != 2 {
		t.Fatalf("Top = %d after removing top entry, want 2", tbl.Top())
	}
	if tbl.Remove(0, 3) {
		t.Fatal("second Remove(3) should report not found")
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tbl.Len())
	}
}

func TestTable_RejectsNull(t *testing.T) {
	tbl := New[ref]("local", 4, 4)
	if _, err := tbl.Add(0); err == nil {
		t.Fatal("expected error adding null reference")
	}
	if tbl.Remove(0, 0) {
		t.Fatal("removing null should fail")
	}
}

func TestTable_LIFORemovalDoesNotCompact(t *testing.T) {
	tbl := New[ref]("global", 8, 64)
	for i := ref(1); i <= 20; i++ {
		if _, err := tbl.Add(i); err != nil {
			t.Fatal(err)
		}
	}
	// Punch a hole below the top; it must survive removal of the top entry.
	if !tbl.Remove(0, 5) {
		t.Fatal("Remove(5) failed")
	}
	idx, ok := tbl.Find(0, 19)
	if !ok {
		t.Fatal("19 missing")
	}

	if !tbl.Remove(0, 20) {
		t.Fatal("Remove(20) failed")
	}
	if tbl.Top() != 19 {
		t.Fatalf("Top = %d, want 19", tbl.Top())
	}
	after, _ := tbl.Find(0, 19)
	if after != idx {
		t.Fatalf("unrelated entry moved from %d to %d", idx, after)
	}
}

func TestTable_RemoveMostRecentDuplicate(t *testing.T) {
	tbl := New[ref]("local", 8, 8)
	tbl.Add(7)
	tbl.Add(8)
	tbl.Add(7)

	if !tbl.Remove(0, 7) {
		t.Fatal("Remove failed")
	}
	idx, ok := tbl.Find(0, 7)
	if !ok || idx != 0 {
		t.Fatalf("Find(7) = %d, %v; want the older copy at 0", idx, ok)
	}
}

func TestTable_TrailingHolesTrimmed(t *testing.T) {
	tbl := New[ref]("local", 8, 8)
	tbl.Add(1)
	tbl.Add(2)
	tbl.Add(3)

	tbl.Remove(0, 2) // hole at 1
	tbl.Remove(0, 3) // top, trims the hole too
	if tbl.Top() != 1 {
		t.Fatalf("Top = %d, want 1", tbl.Top())
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
}

func TestTable_GrowToMax(t *testing.T) {
	tbl := New[ref]("global", 2, 5)
	for i := ref(1); i <= 5; i++ {
		if _, err := tbl.Add(i); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if tbl.Capacity() != 5 {
		t.Fatalf("Capacity = %d, want 5", tbl.Capacity())
	}

	_, err := tbl.Add(6)
	if err == nil {
		t.Fatal("expected table_full")
	}
	var be *errors.Error
	if !stderrors.As(err, &be) || be.Kind != errors.KindTableFull {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTable_FullTableCompactsBeforeFailing(t *testing.T) {
	tbl := New[ref]("local", 4, 4)
	for i := ref(1); i <= 4; i++ {
		tbl.Add(i)
	}
	tbl.Remove(0, 2)

	if _, err := tbl.Add(9); err != nil {
		t.Fatalf("Add after hole should compact: %v", err)
	}
	want := []ref{1, 3, 4, 9}
	var got []ref
	tbl.Each(func(_ int, h ref) bool {
		got = append(got, h)
		return true
	})
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestTable_SegmentsReleaseEnMasse(t *testing.T) {
	tbl := New[ref]("local", 4, 64)
	tbl.Add(100)
	before := tbl.Len()

	seg := tbl.PushSegment()
	for i := ref(1); i <= 5; i++ {
		tbl.Add(i)
	}
	if tbl.SegmentLen() != 5 {
		t.Fatalf("SegmentLen = %d, want 5", tbl.SegmentLen())
	}
	if err := tbl.PopSegment(seg); err != nil {
		t.Fatal(err)
	}

	if tbl.Len() != before {
		t.Fatalf("Len = %d after pop, want %d", tbl.Len(), before)
	}
	for i := ref(1); i <= 5; i++ {
		if tbl.Contains(i) {
			t.Fatalf("%d still reachable after pop", i)
		}
	}
	if !tbl.Contains(100) {
		t.Fatal("caller's entry lost")
	}
}

func TestTable_RemoveNeverCrossesFloor(t *testing.T) {
	tbl := New[ref]("local", 4, 64)
	tbl.Add(1)
	seg := tbl.PushSegment()
	tbl.Add(2)

	if tbl.Remove(0, 1) {
		t.Fatal("removed an entry below the segment floor")
	}
	if !tbl.Contains(1) {
		t.Fatal("caller's entry lost")
	}
	if err := tbl.PopSegment(seg); err != nil {
		t.Fatal(err)
	}
	if !tbl.Remove(0, 1) {
		t.Fatal("entry should be removable once its segment is current")
	}
}

func TestTable_PopSegmentOutOfOrder(t *testing.T) {
	tbl := New[ref]("local", 4, 64)
	outer := tbl.PushSegment()
	tbl.Add(1)
	inner := tbl.PushSegment()
	tbl.Add(2)

	err := tbl.PopSegment(outer)
	if err == nil {
		t.Fatal("popping the outer segment first must fail")
	}
	var be *errors.Error
	if !stderrors.As(err, &be) || !be.Fatal() {
		t.Fatalf("expected integrity error, got %v", err)
	}

	if err := tbl.PopSegment(inner); err != nil {
		t.Fatal(err)
	}
	if err := tbl.PopSegment(outer); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tbl.Len())
	}
}

func TestTable_SegmentPopAfterInnerCompaction(t *testing.T) {
	tbl := New[ref]("local", 64, 64)
	tbl.Add(1)
	tbl.Add(2)
	tbl.Remove(0, 1) // hole below the segment
	seg := tbl.PushSegment()
	for i := ref(10); i < 40; i++ {
		tbl.Add(i)
	}
	for i := ref(10); i < 30; i++ {
		tbl.Remove(tbl.Floor(), i)
	}
	if err := tbl.PopSegment(seg); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 1 || !tbl.Contains(2) {
		t.Fatalf("Len = %d, want only the outer entry", tbl.Len())
	}
}

func TestTable_Dump(t *testing.T) {
	tbl := New[ref]("global", 4, 16)
	tbl.Add(1)
	tbl.Add(2)
	tbl.Add(3)

	var buf bytes.Buffer
	tbl.Dump(&buf, func(h ref) string {
		if h%2 == 0 {
			return "java/lang/String"
		}
		return "java/lang/Object"
	})
	out := buf.String()
	for _, want := range []string{"global reference table dump", "live=3", "2 of java/lang/Object", "1 of java/lang/String"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func BenchmarkTable_AddRemoveTop(b *testing.B) {
	tbl := New[ref]("local", 64, 512)
	for i := 0; i < 256; i++ {
		tbl.Add(ref(i + 1))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.Add(9999)
		tbl.Remove(0, 9999)
	}
}
