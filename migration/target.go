package migration

import (
	"strings"
)

type targetKind uint8

const (
	latestTarget targetKind = iota
	versionTarget
	resetTarget
)

const (
	LatestKeyword = "latest"
	ResetKeyword  = "reset"
)

// Target is where a Migrate call should bring the database:
// the most recent version, a specific version, or a full reset
type Target struct {
	kind    targetKind
	version Version
}

func Latest() Target {
	return Target{kind: latestTarget}
}

func To(v Version) Target {
	return Target{kind: versionTarget, version: v}
}

// Reset drops every application table and ignores the bookkeeping
func Reset() Target {
	return Target{kind: resetTarget}
}

// ParseTarget accepts an empty string or "latest", "reset" or a version
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "", LatestKeyword:
		return Latest(), nil
	case ResetKeyword:
		return Reset(), nil
	}

	v, err := ParseVersion(s)
	if err != nil {
		return Target{}, err
	}

	return To(v), nil
}

func (t Target) IsLatest() bool {
	return t.kind == latestTarget
}

func (t Target) IsReset() bool {
	return t.kind == resetTarget
}

// Version returns the specific version and true if one was requested
func (t Target) Version() (Version, bool) {
	if t.kind != versionTarget {
		return "", false
	}

	return t.version, true
}

// Allows reports whether v may be installed when migrating towards the target
func (t Target) Allows(v Version) bool {
	switch t.kind {
	case latestTarget:
		return true
	case versionTarget:
		return v <= t.version
	default:
		return false
	}
}

func (t Target) String() string {
	switch t.kind {
	case versionTarget:
		return t.version.String()
	case resetTarget:
		return ResetKeyword
	default:
		return LatestKeyword
	}
}
