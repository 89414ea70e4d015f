package sage

import (
	"context"
	"path/filepath"
	"regexp"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

// ErrToolchainUnsupported is returned when nvcc is missing or too old for the
// requested generation. The build is skipped, not failed.
var ErrToolchainUnsupported = errors.New("CUDA toolchain does not support this SageAttention version")

var minimumCUDA = map[Version]*version.Version{
	V2: version.Must(version.NewVersion("12.0")),
	V3: version.Must(version.NewVersion("12.8")),
}

var nvccReleaseRe = regexp.MustCompile(`release\s+(\d+(?:\.\d+)*)`)

// ParseNvccVersion extracts the CUDA release from `nvcc --version` output.
func ParseNvccVersion(out string) (*version.Version, error) {
	m := nvccReleaseRe.FindStringSubmatch(out)
	if m == nil {
		return nil, errors.Errorf("no CUDA release in nvcc output %q", out)
	}
	return version.NewVersion(m[1])
}

// Toolchain is the CUDA compiler found on the machine.
type Toolchain struct {
	NvccPath string
	Version  *version.Version
}

// IncludeDir is the CUDA headers directory next to nvcc.
func (t Toolchain) IncludeDir() string {
	return filepath.Join(filepath.Dir(filepath.Dir(t.NvccPath)), "include")
}

// CheckToolchain locates nvcc and verifies its release supports v.
func CheckToolchain(ctx context.Context, r runner.Runner, v Version) (Toolchain, error) {
	path, err := r.LookPath("nvcc")
	if err != nil {
		return Toolchain{}, errors.Wrap(ErrToolchainUnsupported, "nvcc not found on PATH")
	}
	out, err := r.Output(ctx, runner.New(path, "--version"))
	if err != nil {
		return Toolchain{}, errors.Wrap(err, "failed to query nvcc version")
	}
	release, err := ParseNvccVersion(out)
	if err != nil {
		return Toolchain{}, err
	}
	tc := Toolchain{NvccPath: path, Version: release}
	if minimum, ok := minimumCUDA[v]; ok && release.LessThan(minimum) {
		return tc, errors.Wrapf(ErrToolchainUnsupported,
			"SageAttention %s needs CUDA >= %s, nvcc reports %s", v, minimum, release)
	}
	return tc, nil
}
