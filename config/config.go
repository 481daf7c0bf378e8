// Package config loads bridge options from a HuJSON file and escalates a
// running bridge when the file changes.
//
// The file is JSON with comments and trailing commas allowed:
//
//	{
//		// validate every call
//		"checked": true,
//		"policy": "abort",
//		"global_max": 51200,
//		"version": "1.6",
//	}
//
// Fields left out keep their defaults.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/tailscale/hujson"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/errors"
)

// File is the on-disk form of bridge.Options.
type File struct {
	Policy              string `json:"policy,omitempty"`
	Version             string `json:"version,omitempty"`
	DumpPath            string `json:"dump_path,omitempty"`
	GlobalInitial       int    `json:"global_initial,omitempty"`
	GlobalMax           int    `json:"global_max,omitempty"`
	GlobalWatermarkStep int    `json:"global_watermark_step,omitempty"`
	LocalInitial        int    `json:"local_initial,omitempty"`
	LocalMax            int    `json:"local_max,omitempty"`
	Checked             bool   `json:"checked,omitempty"`
	ForceCopy           bool   `json:"force_copy,omitempty"`
	Verbose             bool   `json:"verbose,omitempty"`
}

// Load reads and parses the options file at path.
func Load(path string) (bridge.Options, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return bridge.Options{}, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Op("Load").
			Cause(err).
			Detail("read options file %s", path).
			Build()
	}
	opts, err := Parse(data)
	if err != nil {
		return bridge.Options{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Op("Load").
			Cause(err).
			Detail("options file %s", path).
			Build()
	}
	Logger().Debug("options loaded", zap.String("path", path))
	return opts, nil
}

// Parse decodes an options document over bridge.DefaultOptions and
// validates the result. Unknown fields are rejected.
func Parse(data []byte) (bridge.Options, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return bridge.Options{}, invalid(err, "invalid HuJSON")
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return bridge.Options{}, invalid(err, "invalid options document")
	}
	return f.Options()
}

// Options layers f over bridge.DefaultOptions.
func (f File) Options() (bridge.Options, error) {
	opts := bridge.DefaultOptions()

	policy, err := bridge.ParsePolicy(f.Policy)
	if err != nil {
		return bridge.Options{}, err
	}
	opts.Policy = policy

	if f.Version != "" {
		v, err := bridge.VersionOf(f.Version)
		if err != nil {
			return bridge.Options{}, err
		}
		if err := bridge.CheckVersion(v); err != nil {
			return bridge.Options{}, errors.New(errors.PhaseConfig, errors.KindVersion).
				Value(f.Version).
				Cause(err).
				Detail("version %q", f.Version).
				Build()
		}
		opts.Version = v
	}

	setInt(&opts.GlobalInitial, f.GlobalInitial)
	setInt(&opts.GlobalMax, f.GlobalMax)
	setInt(&opts.GlobalWatermarkStep, f.GlobalWatermarkStep)
	setInt(&opts.LocalInitial, f.LocalInitial)
	setInt(&opts.LocalMax, f.LocalMax)
	opts.DumpPath = f.DumpPath
	opts.Checked = f.Checked
	opts.ForceCopy = f.ForceCopy
	opts.Verbose = f.Verbose

	if err := validate(opts); err != nil {
		return bridge.Options{}, err
	}
	return opts, nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// validate adds file-level rules on top of bridge.Options.Validate.
func validate(opts bridge.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.ForceCopy && !opts.Checked {
		return errors.InvalidInput(errors.PhaseConfig, "force_copy requires checked mode")
	}
	return nil
}

func invalid(cause error, detail string) *errors.Error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Op("Parse").
		Cause(cause).
		Detail("%s", detail).
		Build()
}
