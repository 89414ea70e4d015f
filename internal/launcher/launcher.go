// Package launcher runs the provisioning stages in order and then the
// Wan2GP application itself.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/config"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/hardware"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/history"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/lock"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/provision"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/sage"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/syncer"
	"k8s.io/klog/v2"
)

// GPUDetector probes the local GPUs.
type GPUDetector interface {
	Detect(ctx context.Context) hardware.Profile
}

// Launcher wires the stages together for one invocation.
type Launcher struct {
	Config   config.Config
	Runner   runner.Runner
	Prompter provision.Prompter
	Detector GPUDetector
	// Inspector defaults to pip inside the conda environment.
	Inspector sage.PackageInspector
	History   sage.Recorder
	// Args are forwarded to the application.
	Args []string
	Out  io.Writer
}

// New returns a Launcher backed by real processes.
func New(cfg config.Config, args []string) *Launcher {
	r := runner.NewExec()
	l := &Launcher{
		Config:   cfg,
		Runner:   r,
		Prompter: provision.TerminalPrompter{},
		Detector: hardware.NewDetector(r),
		Args:     args,
		Out:      os.Stdout,
	}
	if store, err := history.New(cfg.HistoryDir); err != nil {
		klog.Warningf("Build history disabled: %v", err)
	} else {
		l.History = store
	}
	return l
}

// Prepared is the outcome of the provisioning stages.
type Prepared struct {
	Profile   hardware.Profile
	Provision provision.Result
	Sage      sage.Decision
}

func (l *Launcher) out() io.Writer {
	if l.Out == nil {
		return os.Stdout
	}
	return l.Out
}

func (l *Launcher) printf(format string, args ...any) {
	fmt.Fprintf(l.out(), format, args...)
}

// Provisioner returns the environment and source tree provisioner.
func (l *Launcher) Provisioner() *provision.Provisioner {
	return &provision.Provisioner{Config: l.Config, Runner: l.Runner, Prompter: l.Prompter, Out: l.out()}
}

// Cleaner returns the cache cleaner for the configuration.
func (l *Launcher) Cleaner() *syncer.Cleaner {
	return &syncer.Cleaner{
		SystemCacheDir: l.Config.SystemCacheDir,
		CacheDir:       l.Config.CacheDir,
		LimitBytes:     l.Config.CacheLimitBytes,
		ProjectDir:     l.Config.ProjectDir,
		Out:            l.out(),
	}
}

func (l *Launcher) clean(force bool) {
	if _, err := l.Cleaner().Clean(force); err != nil {
		klog.Warningf("Cache cleanup incomplete: %v", err)
	}
}

// Run provisions everything and then runs the application. Cache cleanup
// runs again on every exit path once the cache directory has been validated.
func (l *Launcher) Run(ctx context.Context) error {
	if err := syncer.ValidateDirectory(l.Config.CacheDir); err != nil {
		return fmt.Errorf("invalid %s: %w", config.KeyCacheDir, err)
	}
	defer l.clean(false)

	prepared, err := l.prepare(ctx)
	if err != nil {
		return err
	}

	app := l.AppCommand(ctx, prepared.Profile)
	if l.Config.DryRun {
		l.printDryRun(app)
		return nil
	}

	l.printf("\n🚀 Starting Wan2GP on port %d...\n", l.Config.ServerPort)
	if err := l.Runner.Run(ctx, app); err != nil {
		if ctx.Err() != nil {
			l.printf("\n🛑 Interrupted, cleaning up...\n")
			return &ExitError{Code: 130, Err: ctx.Err()}
		}
		if code := runner.ExitCode(err); code > 0 {
			return &ExitError{Code: code, Err: err}
		}
		return fmt.Errorf("failed to run application: %w", err)
	}
	return nil
}

// Prepare runs every stage except the application itself.
func (l *Launcher) Prepare(ctx context.Context) (Prepared, error) {
	if err := syncer.ValidateDirectory(l.Config.CacheDir); err != nil {
		return Prepared{}, fmt.Errorf("invalid %s: %w", config.KeyCacheDir, err)
	}
	return l.prepare(ctx)
}

func (l *Launcher) prepare(ctx context.Context) (Prepared, error) {
	var p Prepared
	l.clean(l.Config.CleanCache)

	lk, err := lock.Acquire(ctx, l.Config.LockPath(), l.Config.LockTimeout)
	if err != nil {
		return p, err
	}
	defer func() {
		if err := lk.Unlock(); err != nil {
			klog.Warning(err)
		}
	}()

	if p.Provision, err = l.Provisioner().Ensure(ctx); err != nil {
		return p, err
	}

	p.Profile = l.Detector.Detect(ctx)
	l.printf("\n--- GPU ---\n🎮 %s (via %s)\n", p.Profile, p.Profile.Source)

	if p.Sage, err = l.sageStage(ctx, p.Profile, p.Provision); err != nil {
		return p, err
	}

	if err := l.Sync(); err != nil {
		return p, err
	}
	return p, nil
}

// Selection returns the configured SageAttention selection.
func (l *Launcher) Selection() (sage.Selection, error) {
	v, err := sage.ParseVersion(l.Config.SageVersion)
	if err != nil {
		return sage.Selection{}, err
	}
	return sage.Selection{Version: v, Explicit: l.Config.SageExplicit}, nil
}

func (l *Launcher) inspector() sage.PackageInspector {
	if l.Inspector != nil {
		return l.Inspector
	}
	return &sage.PipInspector{Runner: l.Runner, Python: l.Provisioner().Conda().Python}
}

func (l *Launcher) sageStage(ctx context.Context, profile hardware.Profile, res provision.Result) (sage.Decision, error) {
	sel, err := l.Selection()
	if err != nil {
		return sage.Decision{}, err
	}

	l.printf("\n--- SageAttention ---\n")
	d := sage.Decide(ctx, sage.Trigger{
		Selection:           sel,
		Profile:             profile,
		EnvCreated:          res.EnvCreated,
		RequirementsChanged: res.RequirementsChanged,
		SkipPackageCheck:    l.Config.SkipPackageCheck,
	}, l.inspector())
	if !d.Build {
		l.printf("✅ SageAttention %s: %s\n", d.Version, d.Reason)
		return d, nil
	}

	l.printf("SageAttention %s needed: %s\n", d.Version, d.Reason)
	if err := l.InstallSage(ctx, d.Version, profile); err != nil {
		if errors.Is(err, sage.ErrToolchainUnsupported) {
			l.printf("⚠️ Warning: skipping SageAttention build: %v\n", err)
		} else {
			l.printf("⚠️ Warning: %v\n", err)
			l.printf("   Continuing with standard attention.\n")
		}
	}
	return d, nil
}

// InstallSage builds version v for the detected hardware.
func (l *Launcher) InstallSage(ctx context.Context, v sage.Version, profile hardware.Profile) error {
	spec, err := sage.NewBuildSpec(v, profile, sage.BuildOptions{
		Repo:     l.Config.SageRepo,
		BuildDir: l.Config.BuildDir,
		LogDir:   l.Config.BuildLogDir,
		ArchAuto: l.Config.SageArchAuto,
		Jobs:     l.Config.MaxJobs,
	})
	if err != nil {
		return err
	}
	inst := &sage.Installer{
		Runner:  l.Runner,
		Python:  l.Provisioner().Conda().Python,
		History: l.History,
		Out:     l.out(),
	}
	return inst.Install(ctx, spec)
}

// Sync validates the output directories, repairs the content links and
// patches the application config. Only invalid output directories are fatal.
func (l *Launcher) Sync() error {
	cfg := l.Config
	l.printf("\n--- Paths ---\n")

	paths := syncer.LoadSavePaths(cfg.SavePathsFile, syncer.SavePaths{SavePath: cfg.SavePath, ImageSavePath: cfg.ImageSavePath})
	if err := syncer.ValidateSavePaths(paths); err != nil {
		return err
	}

	if cfg.ContentDir != "" {
		for _, t := range syncer.ContentTargets(cfg.ContentDir, cfg.ProjectDir, cfg.LinkDirs) {
			outcome, err := syncer.LinkContentDirectory(t)
			if err != nil {
				l.printf("⚠️ Warning: failed to link %s: %v\n", t.Label, err)
				continue
			}
			klog.V(1).Infof("%s -> %s: %s", t.Target, t.Source, outcome)
			if outcome != syncer.AlreadyCorrect {
				l.printf("🔗 %s %s -> %s\n", t.Label, outcome, t.Source)
			}
		}
		l.reportPatch("checkpoints_paths", func() (syncer.PatchOutcome, error) {
			return syncer.SyncCkptsDirectory(cfg.AppConfigPath(), filepath.Join(cfg.ContentDir, "ckpts"))
		})
	}

	l.reportPatch("save paths", func() (syncer.PatchOutcome, error) {
		return syncer.SyncSavePaths(cfg.AppConfigPath(), paths)
	})
	return nil
}

func (l *Launcher) reportPatch(label string, apply func() (syncer.PatchOutcome, error)) {
	outcome, err := apply()
	switch {
	case err != nil:
		l.printf("⚠️ Warning: failed to sync %s: %v\n", label, err)
	case outcome == syncer.PatchApplied:
		l.printf("✅ Updated %s in %s\n", label, l.Config.AppConfigFile)
	default:
		klog.V(1).Infof("%s %s", label, outcome)
	}
}

// ExitError carries the application's exit status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("application exited with status %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a Run result to the process exit status. A declined
// rebuild is a clean exit.
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil, errors.Is(err, provision.ErrRebuildDeclined):
		return 0
	case errors.As(err, &exitErr):
		return exitErr.Code
	}
	return 1
}

// interruptGrace is how long the application gets to exit after SIGINT.
const interruptGrace = 10 * time.Second
