package bridge

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/wippyai/native-bridge/errors"
)

// Interface versions. The major version lives in the high half-word and
// the minor version in the low half-word.
const (
	Version1_1 uint32 = 0x00010001
	Version1_2 uint32 = 0x00010002
	Version1_4 uint32 = 0x00010004
	Version1_6 uint32 = 0x00010006
)

var supportedVersions = mustConstraint(">= 1.1, <= 1.6")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// SemverOf converts an interface version word to a semantic version.
func SemverOf(v uint32) *semver.Version {
	return semver.New(uint64(v>>16), uint64(v&0xffff), 0, "", "")
}

// VersionOf converts a "major.minor" string to an interface version word.
func VersionOf(s string) (uint32, error) {
	sv, err := semver.NewVersion(s)
	if err != nil {
		return 0, errors.New(errors.PhaseConfig, errors.KindVersion).
			Value(s).
			Cause(err).
			Detail("parse interface version %q", s).
			Build()
	}
	if sv.Major() > 0xffff || sv.Minor() > 0xffff {
		return 0, errors.New(errors.PhaseConfig, errors.KindVersion).
			Value(s).
			Detail("interface version %s out of range", sv).
			Build()
	}
	return uint32(sv.Major())<<16 | uint32(sv.Minor()), nil
}

// VersionString renders an interface version word as "major.minor".
func VersionString(v uint32) string {
	return fmt.Sprintf("%d.%d", v>>16, v&0xffff)
}

// CheckVersion reports whether v is an interface version this bridge
// implements. Only the published minors 1, 2, 4 and 6 exist.
func CheckVersion(v uint32) error {
	sv := SemverOf(v)
	if ok, errs := supportedVersions.Validate(sv); !ok {
		b := errors.New(errors.PhaseLibrary, errors.KindVersion).
			Value(v).
			Detail("interface version %s (0x%08x) not supported", VersionString(v), v)
		if len(errs) > 0 {
			b = b.Cause(errs[0])
		}
		return b.Build()
	}
	switch v {
	case Version1_1, Version1_2, Version1_4, Version1_6:
		return nil
	}
	return errors.New(errors.PhaseLibrary, errors.KindVersion).
		Value(v).
		Detail("interface version %s (0x%08x) was never published", VersionString(v), v).
		Build()
}
