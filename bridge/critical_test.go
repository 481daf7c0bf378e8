package bridge

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

func TestCritical_DepthTracksNesting(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)
	env := tc.Env()

	a := NewArray[int32](env, 4)
	s := env.NewStringUTF([]byte("crit"))

	var depths []int
	GetArrayCritical[int32](env, a)
	depths = append(depths, tc.CriticalDepth())
	chars := env.GetStringCritical(s)
	depths = append(depths, tc.CriticalDepth())
	env.ReleaseStringCritical(s, chars)
	depths = append(depths, tc.CriticalDepth())
	env.ReleasePrimitiveArrayCritical(a, nil, ReleaseDefault)
	depths = append(depths, tc.CriticalDepth())

	if diff := cmp.Diff([]int{1, 2, 1, 0}, depths); diff != "" {
		t.Fatalf("critical depth (-want +got):\n%s", diff)
	}
	if tb.PinnedCount() != 0 {
		t.Fatalf("pins left: %d", tb.PinnedCount())
	}
}

func TestCritical_DirectViewAliasesArray(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)
	env := tc.Env()

	a := NewArray[int32](env, 3)
	view := GetArrayCritical[int32](env, a)
	if !tb.IsPinned(a) {
		t.Fatal("array not pinned inside critical section")
	}
	view[1] = 42
	ReleaseArrayCritical(env, a, view, ReleaseDefault)

	buf := make([]int32, 3)
	GetArrayRegion(env, a, 0, buf)
	if diff := cmp.Diff([]int32{0, 42, 0}, buf); diff != "" {
		t.Fatalf("array contents (-want +got):\n%s", diff)
	}
}

func TestCritical_CheckedFlagsCallsInside(t *testing.T) {
	tb := newTestBridge(t, func(o *Options) { o.Checked = true })
	tc := tb.attach(t)
	env := tc.Env()

	a := NewArray[int8](env, 8)
	elems := env.GetPrimitiveArrayCritical(a)

	before := tb.Violations()
	env.FindClass(managed.StringClass)
	if tb.Violations() != before+1 {
		t.Fatalf("violations %d -> %d, want one more", before, tb.Violations())
	}
	if n := len(tb.violations(errors.KindCriticalViolation)); n != 1 {
		t.Fatalf("critical violations logged: %d", n)
	}

	// These are allowed inside a critical section.
	env.ExceptionCheck()
	env.ReleasePrimitiveArrayCritical(a, elems, ReleaseDefault)
	if tb.Violations() != before+1 {
		t.Fatal("critical-safe calls were flagged")
	}
}

func TestCritical_ReleaseAtDepthZero(t *testing.T) {
	tb := newTestBridge(t, nil)
	tc := tb.attach(t)

	err := tc.ExitCritical()
	if kindOf(err) != errors.KindUnbalanced {
		t.Fatalf("got %v", err)
	}
	if tc.CriticalDepth() != 0 {
		t.Fatalf("depth = %d", tc.CriticalDepth())
	}
}

func TestCritical_CheckedReleaseOfUnpinnedArray(t *testing.T) {
	tb := newTestBridge(t, func(o *Options) { o.Checked = true })
	tc := tb.attach(t)
	env := tc.Env()

	a := NewArray[int64](env, 2)
	env.ReleasePrimitiveArrayCritical(a, nil, ReleaseDefault)
	// One report for the missing pin, one for the depth underflow.
	if n := len(tb.violations(errors.KindUnbalanced)); n != 2 {
		t.Fatalf("unbalanced reports = %d, want 2", n)
	}
}
