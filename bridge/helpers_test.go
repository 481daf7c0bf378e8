package bridge

import (
	stderrors "errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// testBridge is a bridge whose fatal path panics instead of exiting and
// whose log output is captured.
type testBridge struct {
	*Bridge
	logs *observer.ObservedLogs
}

func newTestBridge(t *testing.T, configure func(*Options)) *testBridge {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	opts := DefaultOptions()
	opts.Logger = zap.New(core)
	opts.Abort = func(*FatalError) {}
	if configure != nil {
		configure(&opts)
	}
	b, err := New(managed.NewHeap(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testBridge{Bridge: b, logs: logs}
}

// attach attaches the test goroutine and detaches it on cleanup.
func (tb *testBridge) attach(t *testing.T) *ThreadContext {
	t.Helper()
	tc, err := tb.Attach(&AttachArgs{Name: t.Name()})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() {
		if tc.Attached() {
			_ = tb.Detach(tc)
		}
	})
	return tc
}

// violations returns the captured Warn reports of the given kind.
func (tb *testBridge) violations(kind errors.Kind) []observer.LoggedEntry {
	return tb.logs.FilterMessage("bridge violation").FilterField(zap.String("kind", string(kind))).All()
}

// expectFatal runs fn and returns the *FatalError it aborted with.
func expectFatal(t *testing.T, kind errors.Kind, fn func()) (fe *FatalError) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected fatal %s, call returned", kind)
		}
		var ok bool
		if fe, ok = r.(*FatalError); !ok {
			panic(r)
		}
		if fe.Err.Kind != kind {
			t.Fatalf("fatal kind = %s, want %s (%v)", fe.Err.Kind, kind, fe.Err)
		}
	}()
	fn()
	return nil
}

func kindOf(err error) errors.Kind {
	var be *errors.Error
	if stderrors.As(err, &be) {
		return be.Kind
	}
	return ""
}

func mustClass(t *testing.T, b *Bridge, name string) *managed.Class {
	t.Helper()
	c, ok := b.Heap().FindClass(name)
	if !ok {
		t.Fatalf("class %s not found", name)
	}
	return c
}

func newObject(t *testing.T, b *Bridge) managed.Handle {
	t.Helper()
	h, err := b.Heap().New(mustClass(t, b, managed.ObjectClass))
	if err != nil {
		t.Fatal(err)
	}
	return h
}
