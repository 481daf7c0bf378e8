package bridge

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// Policy decides what happens when a check fails.
type Policy int32

const (
	// PolicyWarn logs the violation and lets the call continue.
	PolicyWarn Policy = iota
	// PolicyAbort logs the violation and takes the fatal path.
	PolicyAbort
)

func (p Policy) String() string {
	switch p {
	case PolicyWarn:
		return "warn"
	case PolicyAbort:
		return "abort"
	}
	return "policy(" + strconv.Itoa(int(p)) + ")"
}

// ParsePolicy parses "warn" or "abort".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn":
		return PolicyWarn, nil
	case "abort", "strict":
		return PolicyAbort, nil
	}
	return PolicyWarn, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Value(s).
		Detail("unknown policy %q (want warn or abort)", s).
		Build()
}

// Policy returns the current violation policy.
func (b *Bridge) Policy() Policy {
	return Policy(b.policy.Load())
}

// SetPolicy changes the violation policy. Policies only escalate:
// switching from abort back to warn is rejected.
func (b *Bridge) SetPolicy(p Policy) error {
	for {
		cur := b.policy.Load()
		if Policy(cur) == p {
			return nil
		}
		if p < Policy(cur) {
			return errors.New(errors.PhaseConfig, errors.KindUnsupported).
				Detail("policy cannot be relaxed from %s to %s", Policy(cur), p).
				Build()
		}
		if b.policy.CompareAndSwap(cur, int32(p)) {
			b.log.Info("violation policy escalated", zap.Stringer("policy", p))
			return nil
		}
	}
}

// Violations returns the number of violations reported so far.
func (b *Bridge) Violations() uint64 {
	return b.violations.Load()
}

// report routes a violation through the policy. Integrity violations and
// the abort policy take the fatal path; everything else is logged at Warn.
// The error is returned so callers can hand it on.
func (b *Bridge) report(tc *ThreadContext, err *errors.Error) *errors.Error {
	if tc != nil && err.Thread == 0 {
		err.Thread = tc.tid
	}
	b.violations.Add(1)
	if err.Fatal() || b.Policy() == PolicyAbort {
		b.fatal(err)
	}
	b.log.Warn("bridge violation",
		zap.String("op", err.Op),
		zap.Int("thread", err.Thread),
		zap.Stringer("handle", managed.Handle(err.Handle)),
		zap.String("kind", string(err.Kind)),
		zap.String("class", err.Class.String()),
		zap.String("detail", err.Detail),
	)
	return err
}
