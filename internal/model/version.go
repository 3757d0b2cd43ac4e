package model

// CVRVersion stamps every mutation of a client view record.
// StateVersion follows the upstream replica watermark and MinorVersion counts
// configuration-only changes made at the same StateVersion.
type CVRVersion struct {
	StateVersion string `json:"stateVersion" yaml:"stateVersion"`
	// MinorVersion of 0 means "none"
	MinorVersion uint64 `json:"minorVersion,omitempty" yaml:"minorVersion,omitempty"`
}

// VersionComparison represents the result of comparing two versions
type VersionComparison int

const (
	// Before means the first version is older than the second
	Before VersionComparison = -1
	// Identical means both versions are the same
	Identical VersionComparison = 0
	// After means the first version is newer than the second
	After VersionComparison = 1
)

// MinStateVersion is the lexi encoding of 0, the state version of a
// client group that has never been flushed.
const MinStateVersion = "00"

// InitialVersion returns the version of a client view record that has never
// been flushed.
func InitialVersion() CVRVersion {
	return CVRVersion{StateVersion: MinStateVersion}
}

// VersionPtr returns a pointer to a copy of v
func VersionPtr(v CVRVersion) *CVRVersion {
	return &v
}
