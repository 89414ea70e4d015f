package sage

import (
	"context"
	"strings"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

// NotInstalled is reported by DetectInstalled when neither generation is present.
const NotInstalled = "NOT_INSTALLED"

// ErrNotInstalled is returned by a PackageInspector for a missing distribution.
var ErrNotInstalled = errors.New("package not installed")

// PackageInspector reads package metadata from the application environment.
type PackageInspector interface {
	// InstalledVersion returns the installed version of a distribution or
	// ErrNotInstalled.
	InstalledVersion(ctx context.Context, name string) (string, error)
}

// CommandFunc builds a command running python inside the application
// environment.
type CommandFunc func(args ...string) runner.Cmd

// PipInspector implements PackageInspector with `python -m pip show`.
type PipInspector struct {
	Runner runner.Runner
	Python CommandFunc
}

// InstalledVersion implements PackageInspector.
func (p *PipInspector) InstalledVersion(ctx context.Context, name string) (string, error) {
	out, err := p.Runner.Output(ctx, p.Python("-m", "pip", "show", name))
	if err != nil {
		// pip exits 1 with "Package(s) not found" for missing distributions.
		if runner.ExitCode(err) == 1 || strings.Contains(err.Error(), "not found") {
			return "", ErrNotInstalled
		}
		return "", errors.Wrapf(err, "failed to inspect %s", name)
	}
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Version:"); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", ErrNotInstalled
}

// DetectInstalled reports the active generation as NOT_INSTALLED, "<version>"
// for sageattention or "sageattn3:<version>" for the Blackwell package.
func DetectInstalled(ctx context.Context, insp PackageInspector) (string, error) {
	v3, err := insp.InstalledVersion(ctx, PackageV3)
	switch {
	case err == nil:
		return PackageV3 + ":" + v3, nil
	case !errors.Is(err, ErrNotInstalled):
		return "", err
	}

	v2, err := insp.InstalledVersion(ctx, PackageV2)
	switch {
	case err == nil:
		return v2, nil
	case errors.Is(err, ErrNotInstalled):
		return NotInstalled, nil
	}
	return "", err
}

// InstalledGeneration maps a DetectInstalled result to a Version. Anything
// that is neither generation, like a 1.x sageattention, is VersionNone.
func InstalledGeneration(detected string) Version {
	if detected == NotInstalled || detected == "" {
		return VersionNone
	}
	if strings.HasPrefix(detected, PackageV3+":") {
		return V3
	}
	v, err := version.NewVersion(detected)
	if err != nil {
		return VersionNone
	}
	switch v.Segments()[0] {
	case 2:
		return V2
	case 3:
		return V3
	}
	return VersionNone
}
