// Package provision makes sure the conda environment and the Wan2GP source
// tree exist and are current before anything else runs.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/config"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"k8s.io/klog/v2"
)

// ErrRebuildDeclined is returned when the user answers no to the rebuild
// prompt. It is not a failure.
var ErrRebuildDeclined = errors.New("environment rebuild cancelled")

// Result reports what Ensure changed.
type Result struct {
	EnvCreated          bool
	Cloned              bool
	RequirementsChanged bool
	Remote              Remote
	Head                string
}

// Provisioner converges the environment and source tree toward the config.
type Provisioner struct {
	Config   config.Config
	Runner   runner.Runner
	Prompter Prompter
	Out      io.Writer
}

// Conda returns the conda handle for the configured environment.
func (p *Provisioner) Conda() *Conda {
	return &Conda{Runner: p.Runner, Exe: p.Config.CondaExe, Env: p.Config.CondaEnv}
}

// Repo returns the git handle for the project directory.
func (p *Provisioner) Repo() *Repo {
	return &Repo{Runner: p.Runner, Dir: p.Config.ProjectDir}
}

func (p *Provisioner) printf(format string, args ...any) {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}

// CheckTools verifies the required executables are on PATH.
func (p *Provisioner) CheckTools() error {
	if _, err := p.Runner.LookPath(p.Config.CondaExe); err != nil {
		return fmt.Errorf("conda executable '%s' not found: install Miniconda or set CONDA_EXE: %w", p.Config.CondaExe, err)
	}
	if _, err := p.Runner.LookPath("git"); err != nil {
		return fmt.Errorf("git not found: install git and retry: %w", err)
	}
	return nil
}

// Ensure creates or updates the source tree and the environment. The source
// tree comes first because the requirements live in it.
func (p *Provisioner) Ensure(ctx context.Context) (Result, error) {
	var res Result
	if err := p.CheckTools(); err != nil {
		return res, err
	}

	conda := p.Conda()
	if p.Config.RebuildEnv {
		ok, err := p.Prompter.ConfirmRebuild(p.Config.CondaEnv)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, ErrRebuildDeclined
		}
	}

	state, err := LoadState(p.Config.StateFile)
	if err != nil {
		klog.Warningf("Ignoring unreadable state file: %v", err)
		state = nil
	}
	if state == nil {
		state = &State{}
	}

	p.printf("\n--- Repository Setup ---\n")
	repo := p.Repo()
	if !repo.Exists() {
		kind, err := p.cloneSource(ctx, repo)
		if err != nil {
			return res, err
		}
		res.Cloned = true
		res.Remote = kind
	} else if p.Config.NoGitUpdate {
		p.printf("⏭️  Skipping git update (--no-git-update)\n")
		res.Remote = p.remembered(state)
	} else {
		kind, changed, err := p.updateSource(ctx, repo, state)
		if err != nil {
			return res, err
		}
		res.Remote = kind
		res.RequirementsChanged = changed
	}

	if head, err := repo.Head(ctx); err == nil {
		res.Head = head
	}
	state.RemoteKind = res.Remote
	state.RemoteURL = p.remoteURL(res.Remote)
	state.Branch = p.Config.Branch
	state.Commit = res.Head
	state.UpdatedAt = time.Now()
	if err := SaveState(p.Config.StateFile, state); err != nil {
		klog.Warningf("Failed to save provisioning state: %v", err)
	}

	p.printf("\n--- Conda Environment ---\n")
	prefix, err := conda.EnvPrefix(ctx)
	if err != nil {
		return res, err
	}
	if prefix != "" && p.Config.RebuildEnv {
		p.printf("🗑️  Removing conda environment '%s'...\n", p.Config.CondaEnv)
		if err := conda.Remove(ctx); err != nil {
			return res, err
		}
		prefix = ""
	}

	if prefix == "" {
		if err := p.createEnv(ctx, conda); err != nil {
			return res, err
		}
		res.EnvCreated = true
		return res, nil
	}

	p.printf("✅ Conda environment '%s' found at %s\n", p.Config.CondaEnv, prefix)
	if res.Cloned {
		// The existing environment has never seen this checkout.
		res.RequirementsChanged = true
		p.printf("📦 Installing %s for the new checkout...\n", p.Config.RequirementsFile)
	} else if res.RequirementsChanged {
		p.printf("📦 %s changed, reinstalling dependencies...\n", p.Config.RequirementsFile)
	}
	if res.RequirementsChanged {
		if err := conda.PipInstall(ctx, p.Config.ProjectDir, "-r", p.Config.RequirementsPath()); err != nil {
			return res, fmt.Errorf("failed to install requirements: %w", err)
		}
	}
	return res, nil
}

func (p *Provisioner) createEnv(ctx context.Context, conda *Conda) error {
	p.printf("Creating conda environment '%s'...\n", p.Config.CondaEnv)
	if err := conda.Create(ctx, p.Config.EnvManifest, p.Config.PythonVersion); err != nil {
		return err
	}

	if len(p.Config.TorchPackages) > 0 {
		p.printf("Installing %v...\n", p.Config.TorchPackages)
		args := append([]string(nil), p.Config.TorchPackages...)
		if p.Config.TorchIndexURL != "" {
			args = append(args, "--index-url", p.Config.TorchIndexURL)
		}
		if err := conda.PipInstall(ctx, p.Config.ProjectDir, args...); err != nil {
			return fmt.Errorf("failed to install torch: %w", err)
		}
	}

	if err := conda.PipInstall(ctx, p.Config.ProjectDir, "-r", p.Config.RequirementsPath()); err != nil {
		return fmt.Errorf("failed to install requirements: %w", err)
	}
	p.printf("✅ Conda environment '%s' created.\n", p.Config.CondaEnv)
	return nil
}

func (p *Provisioner) remoteURL(kind Remote) string {
	if kind == RemoteFork && p.Config.ForkRepo != "" {
		return p.Config.ForkRepo
	}
	return p.Config.OfficialRepo
}

// remembered returns the configured preference, then the persisted choice.
// A fork choice without a fork URL degrades to the official remote.
func (p *Provisioner) remembered(state *State) Remote {
	kind := Remote(p.Config.RepoPreference)
	if kind == "" {
		kind = state.RemoteKind
	}
	if kind != RemoteFork || p.Config.ForkRepo == "" {
		return RemoteOfficial
	}
	return RemoteFork
}

func (p *Provisioner) cloneSource(ctx context.Context, repo *Repo) (Remote, error) {
	p.printf("Repository directory '%s' not found.\n", repo.Dir)

	kind := Remote(p.Config.RepoPreference)
	switch {
	case p.Config.ForkRepo == "":
		kind = RemoteOfficial
	case kind == "":
		var err error
		if kind, err = p.Prompter.ChooseRemote(p.Config.OfficialRepo, p.Config.ForkRepo); err != nil {
			return "", err
		}
	}

	url := p.remoteURL(kind)
	p.printf("Cloning repository '%s' into '%s'...\n", url, repo.Dir)
	if err := repo.Clone(ctx, url, p.Config.Branch); err != nil {
		return "", err
	}
	if kind == RemoteFork {
		if err := repo.SetRemote(ctx, "upstream", p.Config.OfficialRepo); err != nil {
			return "", err
		}
	}
	p.printf("✅ Repository cloned successfully.\n")
	return kind, nil
}

// updateSource repoints origin when it disagrees with the desired remote,
// fast-forwards the tracked branch and reports whether the requirements
// changed between the old and new HEAD.
func (p *Provisioner) updateSource(ctx context.Context, repo *Repo, state *State) (Remote, bool, error) {
	kind := p.remembered(state)
	if p.Config.RepoPreference == "" && state.RemoteKind == "" {
		// No recorded choice: infer it from the existing checkout.
		if origin, err := repo.RemoteURL(ctx, "origin"); err == nil &&
			p.Config.ForkRepo != "" && NormalizeURL(origin) == NormalizeURL(p.Config.ForkRepo) {
			kind = RemoteFork
		}
	}

	desired := p.remoteURL(kind)
	origin, err := repo.RemoteURL(ctx, "origin")
	if err != nil || NormalizeURL(origin) != NormalizeURL(desired) {
		p.printf("Switching origin from '%s' to '%s'...\n", origin, desired)
		if err := repo.SetRemote(ctx, "origin", desired); err != nil {
			return kind, false, err
		}
	}
	if kind == RemoteFork {
		if upstream, err := repo.RemoteURL(ctx, "upstream"); err != nil || NormalizeURL(upstream) != NormalizeURL(p.Config.OfficialRepo) {
			if err := repo.SetRemote(ctx, "upstream", p.Config.OfficialRepo); err != nil {
				return kind, false, err
			}
		}
	}

	pre, err := repo.Head(ctx)
	if err != nil {
		return kind, false, err
	}

	p.printf("Pulling latest changes...\n")
	if err := repo.Fetch(ctx, "origin"); err != nil {
		return kind, false, err
	}
	if kind == RemoteFork {
		if err := repo.Fetch(ctx, "upstream"); err != nil {
			return kind, false, err
		}
	}
	ref, err := repo.ResolveBranch(ctx, kind, p.Config.Branch)
	if err != nil {
		return kind, false, err
	}
	if err := repo.Checkout(ctx, ref); err != nil {
		return kind, false, err
	}

	post, err := repo.Head(ctx)
	if err != nil {
		return kind, false, err
	}
	if pre == post {
		p.printf("✅ Repository is up to date (%s).\n", ref)
		return kind, false, nil
	}

	files, err := repo.ChangedFiles(ctx, pre, post, p.Config.RequirementsFile)
	if err != nil {
		return kind, false, err
	}
	p.printf("✅ Repository updated to %s (%s).\n", shortSHA(post), ref)
	return kind, len(files) > 0, nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
