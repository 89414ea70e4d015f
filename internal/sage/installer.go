package sage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/history"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// buildPrerequisites are installed into the environment before compiling.
var buildPrerequisites = []string{"ninja", "packaging", "wheel", "setuptools"}

// Recorder stores build attempts.
type Recorder interface {
	Append(history.BuildRecord) error
}

// Installer clones and compiles SageAttention into the application
// environment.
type Installer struct {
	Runner runner.Runner
	Python CommandFunc
	// History receives one record per attempt; nil disables it.
	History Recorder
	// Out receives progress lines and the teed build output.
	Out io.Writer
}

// Install always rebuilds from a fresh clone. On success the work dir is
// removed; on failure it is kept along with the log for diagnosis.
func (i *Installer) Install(ctx context.Context, spec BuildSpec) (err error) {
	start := time.Now()
	skipped := false
	defer func() {
		i.record(spec, start, skipped, err)
	}()

	if err := os.RemoveAll(spec.WorkDir); err != nil {
		return errors.Wrapf(err, "failed to remove stale build directory %s", spec.WorkDir)
	}

	tc, err := CheckToolchain(ctx, i.Runner, spec.Version)
	if err != nil {
		skipped = errors.Is(err, ErrToolchainUnsupported)
		return err
	}
	klog.V(1).Infof("Using nvcc %s from %s", tc.Version, tc.NvccPath)

	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create build log directory for %s", spec.LogPath)
	}
	logFile, err := os.Create(spec.LogPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create build log %s", spec.LogPath)
	}
	defer func() {
		_ = logFile.Close()
	}()

	fmt.Fprintf(i.out(), "🔧 Building SageAttention %s (arch %s, %d jobs), log: %s\n",
		spec.Version, spec.Arch, spec.Jobs, spec.LogPath)

	clone := runner.New("git", "clone", "--depth", "1", spec.Repo, spec.WorkDir)
	clone.Stdout, clone.Stderr = logFile, logFile
	if err := i.Runner.Run(ctx, clone); err != nil {
		return errors.Wrapf(err, "failed to clone %s", spec.Repo)
	}

	prereqs := i.Python(append([]string{"-m", "pip", "install"}, buildPrerequisites...)...)
	prereqs.Stdout, prereqs.Stderr = logFile, logFile
	if err := i.Runner.Run(ctx, prereqs); err != nil {
		return errors.Wrap(err, "failed to install build prerequisites")
	}

	uninstall := i.Python(append([]string{"-m", "pip", "uninstall", "-y"}, spec.Uninstall...)...)
	uninstall.Stdout, uninstall.Stderr = logFile, logFile
	if err := i.Runner.Run(ctx, uninstall); err != nil {
		klog.Warningf("Failed to uninstall %v: %v", spec.Uninstall, err)
	}

	tee := io.MultiWriter(i.out(), logFile)
	build := i.Python("-m", "pip", "install", "--no-build-isolation", ".")
	build.Dir = spec.SourceDir
	build.Env = spec.Env(tc.IncludeDir())
	build.Stdout, build.Stderr = tee, tee
	if err := i.Runner.Run(ctx, build); err != nil {
		return errors.Wrapf(err, "SageAttention %s build failed, see %s (sources kept in %s)",
			spec.Version, spec.LogPath, spec.WorkDir)
	}

	if err := os.RemoveAll(spec.WorkDir); err != nil {
		klog.Warningf("Failed to remove build directory %s: %v", spec.WorkDir, err)
	}
	fmt.Fprintf(i.out(), "✅ SageAttention %s installed in %s\n", spec.Version, time.Since(start).Round(time.Second))
	return nil
}

func (i *Installer) out() io.Writer {
	if i.Out == nil {
		return os.Stdout
	}
	return i.Out
}

func (i *Installer) record(spec BuildSpec, start time.Time, skipped bool, err error) {
	if i.History == nil {
		return
	}
	rec := history.BuildRecord{
		Timestamp: start,
		Version:   spec.Version.String(),
		Arch:      spec.Arch,
		Jobs:      spec.Jobs,
		Success:   err == nil,
		Skipped:   skipped,
		Duration:  time.Since(start).Round(time.Millisecond).String(),
		LogPath:   spec.LogPath,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if herr := i.History.Append(rec); herr != nil {
		klog.Warningf("Failed to record build attempt: %v", herr)
	}
}
