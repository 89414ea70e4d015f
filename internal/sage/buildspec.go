package sage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/hardware"
	"github.com/pkg/errors"
)

// Python distribution names of the two generations.
const (
	PackageV2 = "sageattention"
	PackageV3 = "sageattn3"
)

// BlackwellSubdir holds the V3 sources inside the upstream repository.
const BlackwellSubdir = "sageattention3_blackwell"

// BuildSpec describes one build attempt.
type BuildSpec struct {
	Version Version
	// Arch is the TORCH_CUDA_ARCH_LIST value.
	Arch      string
	Repo      string
	WorkDir   string
	SourceDir string
	LogPath   string
	Jobs      int
	// Uninstall lists the distributions removed before installing.
	Uninstall []string
}

// BuildOptions carries the configuration a BuildSpec is derived from.
type BuildOptions struct {
	Repo     string
	BuildDir string
	LogDir   string
	ArchAuto bool
	// Jobs overrides the computed parallelism when positive.
	Jobs int
	// PID and Now make the work dir and log name unique; zero values use the
	// current process and time.
	PID int
	Now time.Time
}

// NewBuildSpec derives the build for a concrete version from the GPU profile.
func NewBuildSpec(v Version, p hardware.Profile, opts BuildOptions) (BuildSpec, error) {
	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = hardware.ParallelJobs(hardware.CPUCores())
	}

	spec := BuildSpec{
		Version: v,
		Repo:    opts.Repo,
		WorkDir: filepath.Join(opts.BuildDir, fmt.Sprintf("wanctl-sageattention-%d", pid)),
		LogPath: filepath.Join(opts.LogDir, fmt.Sprintf("sageattention-v%s-%s.log", v, now.Format("20060102-150405"))),
		Jobs:    jobs,
	}
	switch v {
	case V2:
		spec.SourceDir = spec.WorkDir
		spec.Arch = p.CUDAArchList(opts.ArchAuto, false)
		spec.Uninstall = []string{PackageV2}
	case V3:
		spec.SourceDir = filepath.Join(spec.WorkDir, BlackwellSubdir)
		spec.Arch = hardware.NewestArchList
		// A stale v2 install shadows the v3 imports.
		spec.Uninstall = []string{PackageV2, PackageV3}
	default:
		return BuildSpec{}, errors.Errorf("cannot build SageAttention version %q", v)
	}
	return spec, nil
}

// Env returns the build environment: parallelism for every build system the
// native extension may dispatch to, the target architectures and the CUDA
// include directories.
func (s BuildSpec) Env(includeDirs ...string) []string {
	jobs := strconv.Itoa(s.Jobs)
	env := []string{
		"MAX_JOBS=" + jobs,
		"CMAKE_BUILD_PARALLEL_LEVEL=" + jobs,
		"MAKEFLAGS=-j" + jobs,
		"NVCC_THREADS=" + jobs,
		"TORCH_CUDA_ARCH_LIST=" + s.Arch,
	}
	if len(includeDirs) == 0 {
		return env
	}
	for _, key := range []string{"CPATH", "C_INCLUDE_PATH", "CPLUS_INCLUDE_PATH"} {
		dirs := append([]string(nil), includeDirs...)
		if existing := os.Getenv(key); existing != "" {
			dirs = append(dirs, existing)
		}
		env = append(env, key+"="+strings.Join(dirs, string(os.PathListSeparator)))
	}
	return env
}
