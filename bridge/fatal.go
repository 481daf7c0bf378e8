package bridge

import (
	"strings"

	fileatomic "github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
)

// FatalError is what the bridge aborts with. Dump is the diagnostic dump
// taken at the moment of failure.
type FatalError struct {
	Err  *errors.Error
	Dump string
}

func (e *FatalError) Error() string {
	return "bridge aborted: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// fatal logs err with a full diagnostic dump and aborts. It must not be
// called with any bridge table lock held: the dump takes them all.
func (b *Bridge) fatal(err *errors.Error) {
	fe := &FatalError{Err: err, Dump: b.DumpString()}

	b.log.Error("bridge aborting",
		zap.String("op", err.Op),
		zap.Int("thread", err.Thread),
		zap.String("phase", string(err.Phase)),
		zap.String("kind", string(err.Kind)),
		zap.String("class", err.Class.String()),
		zap.String("detail", err.Detail),
		zap.String("dump", fe.Dump),
	)
	if path := b.opts.DumpPath; path != "" {
		if werr := fileatomic.WriteFile(path, strings.NewReader(fe.Dump)); werr != nil {
			b.log.Error("failed to write bridge dump", zap.String("path", path), zap.Error(werr))
		}
	}

	b.opts.Abort(fe)
	panic(fe)
}
