package algorithm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ydydsnyd/mono-sub004/internal/model"
)

// CompareVersions compares two CVR versions.
// State versions are lexi encoded, so they compare as strings; minor versions
// compare numerically with 0 meaning "none".
func CompareVersions(a, b model.CVRVersion) model.VersionComparison {
	switch {
	case a.StateVersion < b.StateVersion:
		return model.Before
	case a.StateVersion > b.StateVersion:
		return model.After
	case a.MinorVersion < b.MinorVersion:
		return model.Before
	case a.MinorVersion > b.MinorVersion:
		return model.After
	default:
		return model.Identical
	}
}

// OneAfter returns the version following v at the same state version
func OneAfter(v model.CVRVersion) model.CVRVersion {
	return model.CVRVersion{
		StateVersion: v.StateVersion,
		MinorVersion: v.MinorVersion + 1,
	}
}

// MaxVersion returns the newest of the given versions
func MaxVersion(first model.CVRVersion, rest ...model.CVRVersion) model.CVRVersion {
	max := first
	for _, v := range rest {
		if CompareVersions(v, max) == model.After {
			max = v
		}
	}
	return max
}

// VersionString encodes v so that string comparison orders versions the same
// way CompareVersions does: "<stateVersion>" or "<stateVersion>:<lexi(minor)>".
func VersionString(v model.CVRVersion) string {
	if v.MinorVersion == 0 {
		return v.StateVersion
	}
	return v.StateVersion + ":" + VersionToLexi(v.MinorVersion)
}

// ParseVersion is the inverse of VersionString
func ParseVersion(s string) (model.CVRVersion, error) {
	if s == "" {
		return model.CVRVersion{}, fmt.Errorf("empty version string")
	}
	stateVersion, minor, hasMinor := strings.Cut(s, ":")
	if err := validateLexi(stateVersion); err != nil {
		return model.CVRVersion{}, fmt.Errorf("invalid state version %q: %w", stateVersion, err)
	}
	if !hasMinor {
		return model.CVRVersion{StateVersion: stateVersion}, nil
	}
	minorVersion, err := LexiToVersion(minor)
	if err != nil {
		return model.CVRVersion{}, fmt.Errorf("invalid minor version %q: %w", minor, err)
	}
	if minorVersion == 0 {
		return model.CVRVersion{}, fmt.Errorf("minor version must be omitted when zero: %q", s)
	}
	return model.CVRVersion{StateVersion: stateVersion, MinorVersion: minorVersion}, nil
}

// validateLexi checks that s has the shape VersionToLexi produces: a length
// prefix matching the number of digits that follow and no leading zero. State
// versions are not decoded since they may exceed 64 bits.
func validateLexi(s string) error {
	if len(s) < 2 {
		return fmt.Errorf("too short")
	}
	for _, r := range s {
		if !isBase36(r) {
			return fmt.Errorf("invalid character %q", r)
		}
	}
	length, err := strconv.ParseInt(s[:1], 36, 64)
	if err != nil {
		return fmt.Errorf("invalid length prefix: %w", err)
	}
	digits := s[1:]
	if int(length)+1 != len(digits) {
		return fmt.Errorf("length prefix %d does not match %d digits", length, len(digits))
	}
	if len(digits) > 1 && digits[0] == '0' {
		return fmt.Errorf("leading zero")
	}
	return nil
}
