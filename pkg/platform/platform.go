package platform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted OS version such as 14.2.1.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Probe reports the version of the running operating system.
type Probe interface {
	OSVersion() Version
}

// Static is a Probe that always reports the same version.
type Static Version

func (s Static) OSVersion() Version {
	return Version(s)
}

// ParseVersion accepts "14", "14.2" or "14.2.1".
func ParseVersion(input string) (Version, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return Version{}, errors.New("version is empty")
	}

	parts := strings.Split(value, ".")
	if len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version %q", input)
	}

	numbers := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", input)
		}
		numbers[i] = n
	}

	return Version{Major: numbers[0], Minor: numbers[1], Patch: numbers[2]}, nil
}

// MustParseVersion is ParseVersion for constants known to be valid.
func MustParseVersion(input string) Version {
	v, err := ParseVersion(input)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

func (v Version) AtLeast(min Version) bool {
	return v.Compare(min) >= 0
}

func (v Version) IsZero() bool {
	return v == Version{}
}

func (v Version) String() string {
	if v.Patch == 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Supports reports whether the probed OS is at least min. A nil probe
// supports nothing.
func Supports(probe Probe, min Version) bool {
	if probe == nil {
		return false
	}
	return probe.OSVersion().AtLeast(min)
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	return 1
}
