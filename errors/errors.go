package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which bridge component raised the error
type Phase string

const (
	PhaseRefTable Phase = "reftable" // reference table storage
	PhaseLocal    Phase = "local"    // local reference scopes
	PhaseGlobal   Phase = "global"   // global reference manager
	PhaseCritical Phase = "critical" // critical section tracking
	PhaseThread   Phase = "thread"   // attach/detach lifecycle
	PhaseCall     Phase = "call"     // call bridge and registration
	PhaseCheck    Phase = "check"    // checked-mode validation
	PhaseGuard    Phase = "guard"    // guarded copies
	PhaseConfig   Phase = "config"   // options loading
	PhaseLibrary  Phase = "library"  // native library loading
)

// Kind categorizes the error
type Kind string

const (
	KindTableFull         Kind = "table_full"
	KindNotFound          Kind = "not_found"
	KindStackDiscipline   Kind = "stack_discipline"
	KindUnbalanced        Kind = "unbalanced"
	KindInvalidRef        Kind = "invalid_ref"
	KindWrongThread       Kind = "wrong_thread"
	KindTypeMismatch      Kind = "type_mismatch"
	KindInvalidUTF8       Kind = "invalid_utf8"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindBadReleaseMode    Kind = "bad_release_mode"
	KindCorruption        Kind = "corruption"
	KindShutdown          Kind = "shutdown"
	KindNotAttached       Kind = "not_attached"
	KindPendingException  Kind = "pending_exception"
	KindCriticalViolation Kind = "critical_violation"
	KindAllocation        Kind = "allocation"
	KindUnsupported       Kind = "unsupported"
	KindInvalidInput      Kind = "invalid_input"
	KindVersion           Kind = "version"
	KindRegistration      Kind = "registration"
	KindNativeAbort       Kind = "native_abort"
)

// Class is the coarse error class that decides how the policy treats an error.
type Class uint8

const (
	// ClassMisuse covers protocol violations by native code. Policy decides warn or abort.
	ClassMisuse Class = iota
	// ClassExhaustion covers table and heap exhaustion.
	ClassExhaustion
	// ClassIntegrity covers detected memory corruption. Always fatal.
	ClassIntegrity
)

func (c Class) String() string {
	switch c {
	case ClassMisuse:
		return "misuse"
	case ClassExhaustion:
		return "exhaustion"
	case ClassIntegrity:
		return "integrity"
	}
	return "class(" + strconv.Itoa(int(c)) + ")"
}

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
	Handle uint64
	Thread int
	Class  Class
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Thread != 0 {
		b.WriteString(" thread=")
		b.WriteString(strconv.Itoa(e.Thread))
	}
	if e.Handle != 0 {
		b.WriteString(" handle=0x")
		b.WriteString(strconv.FormatUint(e.Handle, 16))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether the error can never be recovered from.
func (e *Error) Fatal() bool {
	return e.Class == ClassIntegrity
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the bridge operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Thread sets the OS thread id
func (b *Builder) Thread(tid int) *Builder {
	b.err.Thread = tid
	return b
}

// Handle sets the offending handle
func (b *Builder) Handle(h uint64) *Builder {
	b.err.Handle = h
	return b
}

// Class sets the error class
func (b *Builder) Class(c Class) *Builder {
	b.err.Class = c
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TableFull creates a table exhaustion error
func TableFull(phase Phase, table string, max int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTableFull,
		Class:  ClassExhaustion,
		Detail: fmt.Sprintf("%s reference table overflow (max=%d)", table, max),
	}
}

// NotFound creates a not-found error for a handle missing from a table
func NotFound(phase Phase, op string, h uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Op:     op,
		Handle: h,
		Detail: "reference not found in table",
	}
}

// InvalidRef creates an invalid reference error
func InvalidRef(op string, h uint64, detail string) *Error {
	return &Error{
		Phase:  PhaseCheck,
		Kind:   KindInvalidRef,
		Op:     op,
		Handle: h,
		Detail: detail,
	}
}

// TypeMismatch creates a declared-vs-actual type error
func TypeMismatch(phase Phase, op, declared, actual string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Op:     op,
		Detail: fmt.Sprintf("declared %s, actual %s", declared, actual),
	}
}

// InvalidUTF8 creates an invalid modified UTF-8 error
func InvalidUTF8(op string, data []byte, cause error) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  PhaseCheck,
		Kind:   KindInvalidUTF8,
		Op:     op,
		Detail: fmt.Sprintf("invalid modified UTF-8 sequence: %x", preview),
		Cause:  cause,
	}
}

// OutOfBounds creates an array bounds error
func OutOfBounds(phase Phase, op string, start, count, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Op:     op,
		Detail: fmt.Sprintf("region [%d, +%d) out of bounds (length %d)", start, count, length),
		Value:  start,
	}
}

// Allocation creates a recoverable allocation failure
func Allocation(phase Phase, op, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Class:  ClassExhaustion,
		Op:     op,
		Detail: detail,
	}
}

// StackDiscipline creates an integrity error for unbalanced frame pops
func StackDiscipline(op string, detail string) *Error {
	return &Error{
		Phase:  PhaseLocal,
		Kind:   KindStackDiscipline,
		Class:  ClassIntegrity,
		Op:     op,
		Detail: detail,
	}
}

// Corruption creates an integrity error for a damaged guarded copy
func Corruption(op, detail string) *Error {
	return &Error{
		Phase:  PhaseGuard,
		Kind:   KindCorruption,
		Class:  ClassIntegrity,
		Op:     op,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a native method registration error
func Registration(class, name, sig string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s.%s%s", class, name, sig),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
