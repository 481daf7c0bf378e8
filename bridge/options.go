package bridge

import (
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
)

// Table size defaults.
const (
	DefaultLocalInitial        = 64
	DefaultLocalMax            = 512
	DefaultGlobalInitial       = 512
	DefaultGlobalMax           = 51200
	DefaultGlobalWatermarkStep = 100
)

// Options holds configuration for bridge creation
type Options struct {
	// Logger receives violation reports and diagnostics.
	// nil means the package logger.
	Logger *zap.Logger

	// Abort is called once a fatal violation has been logged and dumped.
	// It must not return; if it does the bridge panics with the *FatalError.
	// nil syncs the logger and exits the process with status 134.
	Abort func(*FatalError)

	// DumpPath, when set, receives the diagnostic dump written atomically
	// before Abort runs.
	DumpPath string

	// Version is the interface version the bridge reports.
	// 0 means Version1_6.
	Version uint32

	GlobalInitial int
	GlobalMax     int

	// GlobalWatermarkStep is the distance between the sliding watermarks
	// used to log global reference growth.
	GlobalWatermarkStep int

	LocalInitial int
	LocalMax     int

	// Policy decides what a non-fatal violation does.
	Policy Policy

	// Checked installs the validating call table on every thread.
	Checked bool

	// ForceCopy makes checked critical gets hand out guarded copies too.
	ForceCopy bool

	// Verbose logs every registration and native invocation at Debug.
	Verbose bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Version:             Version1_6,
		GlobalInitial:       DefaultGlobalInitial,
		GlobalMax:           DefaultGlobalMax,
		GlobalWatermarkStep: DefaultGlobalWatermarkStep,
		LocalInitial:        DefaultLocalInitial,
		LocalMax:            DefaultLocalMax,
		Policy:              PolicyWarn,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Version == 0 {
		o.Version = d.Version
	}
	if o.GlobalInitial == 0 {
		o.GlobalInitial = d.GlobalInitial
	}
	if o.GlobalMax == 0 {
		o.GlobalMax = d.GlobalMax
	}
	if o.GlobalWatermarkStep == 0 {
		o.GlobalWatermarkStep = d.GlobalWatermarkStep
	}
	if o.LocalInitial == 0 {
		o.LocalInitial = d.LocalInitial
	}
	if o.LocalMax == 0 {
		o.LocalMax = d.LocalMax
	}
	if o.Logger == nil {
		o.Logger = Logger()
	}
	if o.Abort == nil {
		log := o.Logger
		o.Abort = func(*FatalError) {
			_ = log.Sync()
			os.Exit(134)
		}
	}
	return o
}

// Validate reports the first inconsistent setting.
func (o Options) Validate() error {
	switch {
	case o.GlobalInitial < 0 || o.GlobalMax < 0 || o.LocalInitial < 0 || o.LocalMax < 0:
		return errors.InvalidInput(errors.PhaseConfig, "table sizes must not be negative")
	case o.GlobalMax != 0 && o.GlobalInitial > o.GlobalMax:
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("global initial capacity %d exceeds maximum %d", o.GlobalInitial, o.GlobalMax).
			Build()
	case o.LocalMax != 0 && o.LocalInitial > o.LocalMax:
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("local initial capacity %d exceeds maximum %d", o.LocalInitial, o.LocalMax).
			Build()
	case o.GlobalWatermarkStep < 0:
		return errors.InvalidInput(errors.PhaseConfig, "global watermark step must not be negative")
	case o.Policy != PolicyWarn && o.Policy != PolicyAbort:
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(o.Policy).
			Detail("unknown policy %d", int(o.Policy)).
			Build()
	}
	if o.Version != 0 {
		if err := CheckVersion(o.Version); err != nil {
			return err
		}
	}
	return nil
}
