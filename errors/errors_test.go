package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseCheck,
				Kind:   KindInvalidRef,
				Op:     "DeleteLocalRef",
				Thread: 4242,
				Handle: 0x1f,
				Detail: "stale local",
			},
			contains: []string{"[check]", "invalid_ref", "in DeleteLocalRef", "thread=4242", "handle=0x1f", "stale local"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseGlobal,
				Kind:  KindTableFull,
			},
			contains: []string{"[global]", "table_full"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseConfig,
				Kind:   KindInvalidInput,
				Detail: "bad file",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[config]", "invalid_input", "bad file", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLibrary,
		Kind:  KindVersion,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseLocal,
		Kind:   KindStackDiscipline,
		Detail: "pop without push",
	}

	if !err.Is(&Error{Phase: PhaseLocal, Kind: KindStackDiscipline}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseGlobal, Kind: KindStackDiscipline}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseLocal, Kind: KindTableFull}) {
		t.Error("Is should not match different kind")
	}

	target := &Error{Phase: PhaseLocal, Kind: KindStackDiscipline}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseCritical, KindUnbalanced).
		Op("ReleasePrimitiveArrayCritical").
		Thread(7).
		Handle(0x40).
		Class(ClassMisuse).
		Value(-1).
		Cause(cause).
		Detail("depth would become %d", -1).
		Build()

	if err.Phase != PhaseCritical || err.Kind != KindUnbalanced {
		t.Errorf("Phase/Kind = %v/%v", err.Phase, err.Kind)
	}
	if err.Op != "ReleasePrimitiveArrayCritical" {
		t.Errorf("Op = %q", err.Op)
	}
	if err.Thread != 7 || err.Handle != 0x40 {
		t.Errorf("Thread/Handle = %d/%#x", err.Thread, err.Handle)
	}
	if err.Detail != "depth would become -1" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable")
	}
	if err.Fatal() {
		t.Error("misuse error should not be fatal")
	}
}

func TestConstructorClasses(t *testing.T) {
	tests := []struct {
		err   *Error
		class Class
		fatal bool
	}{
		{TableFull(PhaseGlobal, "global", 100), ClassExhaustion, false},
		{Allocation(PhaseLocal, "EnsureLocalCapacity", "too many"), ClassExhaustion, false},
		{StackDiscipline("PopLocalFrame", "empty"), ClassIntegrity, true},
		{Corruption("ReleaseByteArrayElements", "pattern"), ClassIntegrity, true},
		{InvalidRef("IsSameObject", 1, "stale"), ClassMisuse, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			if tt.err.Class != tt.class {
				t.Errorf("Class = %v, want %v", tt.err.Class, tt.class)
			}
			if tt.err.Fatal() != tt.fatal {
				t.Errorf("Fatal() = %v, want %v", tt.err.Fatal(), tt.fatal)
			}
		})
	}
}

func TestOutOfBoundsDetail(t *testing.T) {
	err := OutOfBounds(PhaseCheck, "GetArrayRegion", 10, 4, 12)
	if !strings.Contains(err.Error(), "[10, +4)") || !strings.Contains(err.Error(), "length 12") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
