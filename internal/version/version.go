// Package version carries the build version shared by agent and collector.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Set at link time: -ldflags "-X github.com/blinky-mon/blinky/internal/version.BuildDate=..."
var (
	BuildDate = "unknown"
	GitCommit = ""
)

const (
	Major = 0
	Minor = 1
	Patch = 23
)

// Version is a major.minor.patch triple.
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// Current returns the version this binary was built as.
func Current() Version {
	return Version{Major: Major, Minor: Minor, Patch: Patch}
}

// Parse reads "X", "X.Y" or "X.Y.Z", with an optional leading "v". Components
// that are missing or not numeric stay zero.
func Parse(s string) Version {
	var v Version
	parts := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".", 3)
	dst := []*uint8{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.ParseUint(leadingDigits(p), 10, 8)
		if err != nil {
			break
		}
		*dst[i] = uint8(n)
	}
	return v
}

func leadingDigits(s string) string {
	for i, r := range s {
		if r < '0' || r > '9' {
			return s[:i]
		}
	}
	return s
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Number packs the version as major<<16 | minor<<8 | patch.
func (v Version) Number() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)<<8 | uint32(v.Patch)
}

// IsCompatible reports whether both sides share a major version.
func (v Version) IsCompatible(other Version) bool {
	return v.Major == other.Major
}

// IsNewer reports whether v sorts after other.
func (v Version) IsNewer(other Version) bool {
	return v.Number() > other.Number()
}

// Full is the banner string, e.g. "v0.1.23 (built 2024-06-01)".
func Full() string {
	s := "v" + Current().String() + " (built " + BuildDate + ")"
	if GitCommit != "" {
		s += " " + GitCommit
	}
	return s
}
