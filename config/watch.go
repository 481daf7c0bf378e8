package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/errors"
)

// Escalate applies the checking settings of opts to a running bridge.
// Settings only ever tighten: a file that turns checked mode off or relaxes
// the policy is ignored for that setting. It reports whether anything changed.
func Escalate(b *bridge.Bridge, opts bridge.Options) bool {
	changed := false
	if opts.Checked && !b.Checked() {
		b.EnableChecked()
		changed = true
	}
	if opts.Policy > b.Policy() {
		if err := b.SetPolicy(opts.Policy); err == nil {
			changed = true
		}
	}
	return changed
}

// Watcher reloads an options file whenever it is written and escalates the
// bridge it was created for.
type Watcher struct {
	b    *bridge.Bridge
	fw   *fsnotify.Watcher
	path string

	// reloaded is called after every reload attempt. Tests hook it.
	reloaded func(bridge.Options, error)
}

// NewWatcher starts watching path. The directory is watched rather than the
// file so editors that replace the file by rename are still seen.
func NewWatcher(path string, b *bridge.Bridge) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "resolve options path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindUnsupported, err, "create file watcher")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "watch "+filepath.Dir(abs))
	}
	return &Watcher{b: b, fw: fw, path: abs}, nil
}

// Run processes file events until ctx is done. It closes the watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()
	log := Logger().With(zap.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			opts, err := Load(w.path)
			if err != nil {
				log.Warn("options reload failed", zap.Error(err))
			} else if Escalate(w.b, opts) {
				log.Info("bridge escalated from options file",
					zap.Bool("checked", w.b.Checked()),
					zap.Stringer("policy", w.b.Policy()))
			}
			if w.reloaded != nil {
				w.reloaded(opts, err)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", zap.Error(err))
		}
	}
}

// Watch escalates b from the options file at path until ctx is done.
func Watch(ctx context.Context, path string, b *bridge.Bridge) error {
	w, err := NewWatcher(path, b)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
