package migration

import (
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidVersionFormat = errors.New("invalid version format")

// VersionLayout is the time layout of a version: a 14 digit UTC timestamp
const VersionLayout = "20060102150405"

const VersionLength = 14

var versionRegexp = regexp.MustCompile(`^\d{14}$`)

type (
	// Version names a point in schema history. Lexicographic order of
	// versions equals their chronological order.
	Version string

	Versions []Version

	ClockFunc func() time.Time
)

// ParseVersion validates that s is exactly 14 digits
func ParseVersion(s string) (Version, error) {
	if !versionRegexp.MatchString(s) {
		return "", errors.Wrapf(ErrInvalidVersionFormat, "[%s] must be exactly %d digits", s, VersionLength)
	}

	return Version(s), nil
}

// GenerateVersion creates a version from the current time of the clock
func GenerateVersion(cf ClockFunc) Version {
	return Version(cf().UTC().Format(VersionLayout))
}

func (v Version) String() string {
	return string(v)
}

func (v Version) Less(other Version) bool {
	return v < other
}

// Time converts the version back to the moment it was generated at
func (v Version) Time() (time.Time, error) {
	t, err := time.Parse(VersionLayout, string(v))
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidVersionFormat, "%s", v)
	}

	return t, nil
}

func (vs Versions) Len() int {
	return len(vs)
}

func (vs Versions) Less(i, j int) bool {
	return vs[i] < vs[j]
}

func (vs Versions) Swap(i, j int) {
	vs[i], vs[j] = vs[j], vs[i]
}

func (vs Versions) Contains(v Version) bool {
	for i := range vs {
		if vs[i] == v {
			return true
		}
	}

	return false
}

// Sorted returns an ascending copy
func (vs Versions) Sorted() Versions {
	result := make(Versions, len(vs))
	copy(result, vs)
	sort.Sort(result)
	return result
}
