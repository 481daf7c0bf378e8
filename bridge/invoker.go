package bridge

import (
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/mutf8"
)

// Invoker is the invocation table: process-level entry points that work
// without a call table in hand.
type Invoker interface {
	AttachCurrentThread(args *AttachArgs) (Env, error)
	AttachCurrentThreadAsDaemon(args *AttachArgs) (Env, error)
	DetachCurrentThread() error
	// GetEnv returns the calling thread's call table, or a not-attached
	// error. version must be a supported interface version.
	GetEnv(version uint32) (Env, error)
	DestroyBridge() error
}

type directInvoker struct {
	b *Bridge
}

func (d *directInvoker) AttachCurrentThread(args *AttachArgs) (Env, error) {
	return d.attach(args, false, "AttachCurrentThread")
}

func (d *directInvoker) AttachCurrentThreadAsDaemon(args *AttachArgs) (Env, error) {
	return d.attach(args, true, "AttachCurrentThreadAsDaemon")
}

func (d *directInvoker) attach(args *AttachArgs, daemon bool, op string) (Env, error) {
	if args != nil && args.Version != 0 {
		if err := CheckVersion(args.Version); err != nil {
			return nil, err
		}
	}
	tc, err := d.b.attach(args, daemon, op)
	if err != nil {
		return nil, err
	}
	return tc.Env(), nil
}

func (d *directInvoker) DetachCurrentThread() error {
	return d.b.detach(d.b.Current(), "DetachCurrentThread")
}

func (d *directInvoker) GetEnv(version uint32) (Env, error) {
	if err := CheckVersion(version); err != nil {
		return nil, err
	}
	tc := d.b.Current()
	if tc == nil {
		return nil, errors.New(errors.PhaseThread, errors.KindNotAttached).
			Op("GetEnv").
			Thread(osThreadID()).
			Detail("calling thread is not attached").
			Build()
	}
	return tc.Env(), nil
}

func (d *directInvoker) DestroyBridge() error {
	return d.b.Shutdown()
}

// checkedInvoker adds lifecycle checks: attach names must be valid
// modified UTF-8 and a thread must not detach from inside a critical
// section, with local frames pushed or with guarded buffers unreleased.
type checkedInvoker struct {
	direct directInvoker
}

func (c *checkedInvoker) checkArgs(op string, args *AttachArgs) {
	if args == nil || args.Name == "" {
		return
	}
	if err := mutf8.Validate([]byte(args.Name)); err != nil {
		c.direct.b.report(nil, errors.InvalidUTF8(op, []byte(args.Name), err))
	}
}

func (c *checkedInvoker) AttachCurrentThread(args *AttachArgs) (Env, error) {
	c.checkArgs("AttachCurrentThread", args)
	return c.direct.AttachCurrentThread(args)
}

func (c *checkedInvoker) AttachCurrentThreadAsDaemon(args *AttachArgs) (Env, error) {
	c.checkArgs("AttachCurrentThreadAsDaemon", args)
	return c.direct.AttachCurrentThreadAsDaemon(args)
}

func (c *checkedInvoker) DetachCurrentThread() error {
	const op = "DetachCurrentThread"
	b := c.direct.b
	if tc := b.Current(); tc != nil {
		if tc.InCritical() {
			b.report(tc, errors.New(errors.PhaseCritical, errors.KindCriticalViolation).
				Op(op).
				Detail("detaching with %d critical sections held", tc.CriticalDepth()).
				Build())
		}
		if n := tc.FrameDepth(); n > 0 {
			b.report(tc, errors.New(errors.PhaseLocal, errors.KindUnbalanced).
				Op(op).
				Detail("detaching with %d local frames pushed", n).
				Build())
		}
		if n := tc.OutstandingBuffers(); n > 0 {
			b.report(tc, errors.New(errors.PhaseGuard, errors.KindUnbalanced).
				Op(op).
				Detail("detaching with %d buffers not released", n).
				Build())
		}
	}
	return c.direct.DetachCurrentThread()
}

func (c *checkedInvoker) GetEnv(version uint32) (Env, error) {
	return c.direct.GetEnv(version)
}

func (c *checkedInvoker) DestroyBridge() error {
	return c.direct.DestroyBridge()
}
