// Package sage decides which SageAttention generation a machine needs and
// builds it from source inside the application environment.
package sage

import (
	"strings"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/hardware"
	"github.com/pkg/errors"
)

// Version is the SageAttention generation to install.
type Version int

const (
	// VersionNone disables SageAttention; the app falls back to standard attention.
	VersionNone Version = iota
	// V2 is the sageattention package built for Ampere/Ada/Hopper.
	V2
	// V3 is the sageattn3 package built for Blackwell.
	V3
	// VersionAuto picks V2 or V3 from the detected GPU.
	VersionAuto
)

// ParseVersion accepts "2", "3", "auto" and "none".
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return VersionNone, nil
	case "2":
		return V2, nil
	case "3":
		return V3, nil
	case "auto", "":
		return VersionAuto, nil
	}
	return VersionNone, errors.Errorf("unknown SageAttention version %q (expected 2, 3, auto or none)", s)
}

func (v Version) String() string {
	switch v {
	case VersionNone:
		return "none"
	case V2:
		return "2"
	case V3:
		return "3"
	case VersionAuto:
		return "auto"
	}
	return "invalid"
}

// Selection is the configured version and whether the user forced it on the
// command line.
type Selection struct {
	Version  Version
	Explicit bool
}

// Resolve maps a selection to a concrete version. Auto becomes V3 on newest
// generation hardware and V2 everywhere else, including unknown hardware.
func Resolve(sel Selection, p hardware.Profile) Version {
	switch sel.Version {
	case VersionNone:
		return VersionNone
	case V2:
		return V2
	case V3:
		return V3
	case VersionAuto:
		if p.NewestGeneration {
			return V3
		}
		return V2
	}
	return VersionNone
}
