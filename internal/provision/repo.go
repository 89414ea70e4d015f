package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
)

// Remote is the kind of repository the source tree tracks.
type Remote string

const (
	RemoteOfficial Remote = "official"
	RemoteFork     Remote = "fork"
)

// Repo runs git against the application source tree.
type Repo struct {
	Runner runner.Runner
	Dir    string
}

func (r *Repo) git(args ...string) runner.Cmd {
	return runner.New("git", append([]string{"-C", r.Dir}, args...)...)
}

// Exists reports whether Dir is a git checkout.
func (r *Repo) Exists() bool {
	_, err := os.Stat(filepath.Join(r.Dir, ".git"))
	return err == nil
}

// Clone clones url into Dir, at branch when set.
func (r *Repo) Clone(ctx context.Context, url, branch string) error {
	if err := os.MkdirAll(filepath.Dir(r.Dir), 0755); err != nil {
		return fmt.Errorf("failed to create parent of '%s': %w", r.Dir, err)
	}
	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, r.Dir)
	if err := r.Runner.Run(ctx, runner.New("git", args...)); err != nil {
		return fmt.Errorf("failed to clone repository '%s': %w", url, err)
	}
	return nil
}

// RemoteURL returns the fetch URL of a remote.
func (r *Repo) RemoteURL(ctx context.Context, name string) (string, error) {
	return r.Runner.Output(ctx, r.git("remote", "get-url", name))
}

// SetRemote points name at url, adding the remote when missing.
func (r *Repo) SetRemote(ctx context.Context, name, url string) error {
	cmd := r.git("remote", "set-url", name, url)
	if _, err := r.RemoteURL(ctx, name); err != nil {
		cmd = r.git("remote", "add", name, url)
	}
	if err := r.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to set remote '%s' to '%s': %w", name, url, err)
	}
	return nil
}

// Fetch fetches a remote.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	if err := r.Runner.Run(ctx, r.git("fetch", remote)); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", remote, err)
	}
	return nil
}

// Head returns the checked out commit.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.Runner.Output(ctx, r.git("rev-parse", "HEAD"))
	if err != nil {
		return "", fmt.Errorf("failed to get current commit: %w", err)
	}
	return out, nil
}

// CurrentBranch returns the checked out branch, or "" when detached.
func (r *Repo) CurrentBranch(ctx context.Context) string {
	out, err := r.Runner.Output(ctx, r.git("rev-parse", "--abbrev-ref", "HEAD"))
	if err != nil || out == "HEAD" {
		return ""
	}
	return out
}

// hasRemoteBranch checks if remote/branch exists locally after a fetch
func (r *Repo) hasRemoteBranch(ctx context.Context, remote, branch string) bool {
	_, err := r.Runner.Output(ctx, r.git("rev-parse", "--verify", "--quiet", "refs/remotes/"+remote+"/"+branch))
	return err == nil
}

// Ref is a branch on a remote.
type Ref struct {
	Remote string
	Branch string
}

func (r Ref) String() string {
	return r.Remote + "/" + r.Branch
}

// ResolveBranch picks the branch to track. The fork tries upstream before
// origin; only the official remote falls back to main and master.
func (r *Repo) ResolveBranch(ctx context.Context, kind Remote, branch string) (Ref, error) {
	if branch == "" {
		branch = r.CurrentBranch(ctx)
	}
	var candidates []Ref
	if branch != "" {
		if kind == RemoteFork {
			candidates = append(candidates, Ref{"upstream", branch})
		}
		candidates = append(candidates, Ref{"origin", branch})
	}
	if kind == RemoteOfficial {
		candidates = append(candidates, Ref{"origin", "main"}, Ref{"origin", "master"})
	}

	for _, c := range candidates {
		if r.hasRemoteBranch(ctx, c.Remote, c.Branch) {
			return c, nil
		}
	}
	return Ref{}, fmt.Errorf("no branch to track: tried %v", candidates)
}

// ErrDiverged is returned when the local branch cannot be fast-forwarded to
// the remote one.
var ErrDiverged = errors.New("local branch has diverged from the remote")

// hasLocalBranch checks if refs/heads/branch exists
func (r *Repo) hasLocalBranch(ctx context.Context, branch string) bool {
	_, err := r.Runner.Output(ctx, r.git("rev-parse", "--verify", "--quiet", "refs/heads/"+branch))
	return err == nil
}

// Checkout switches to ref.Branch, creating it to track ref when missing,
// and fast-forwards it. Local commits are never discarded: a branch that
// cannot be fast-forwarded fails with ErrDiverged.
func (r *Repo) Checkout(ctx context.Context, ref Ref) error {
	checkout := r.git("checkout", ref.Branch)
	if !r.hasLocalBranch(ctx, ref.Branch) {
		checkout = r.git("checkout", "-b", ref.Branch, "--track", ref.String())
	}
	if err := r.Runner.Run(ctx, checkout); err != nil {
		return fmt.Errorf("failed to checkout branch '%s': %w", ref.Branch, err)
	}
	if err := r.Runner.Run(ctx, r.git("pull", "--ff-only", ref.Remote, ref.Branch)); err != nil {
		return fmt.Errorf("%w: cannot fast-forward '%s' to %s, merge or rebase it manually or use --no-git-update: %v",
			ErrDiverged, ref.Branch, ref, err)
	}
	return nil
}

// ChangedFiles lists files under paths that differ between two commits.
func (r *Repo) ChangedFiles(ctx context.Context, from, to string, paths ...string) ([]string, error) {
	args := append([]string{"diff", "--name-only", from, to, "--"}, paths...)
	out, err := r.Runner.Output(ctx, r.git(args...))
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", from, to, err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// NormalizeURL reduces a git remote URL to host/owner/repo so that https,
// ssh and scp-like forms of the same repository compare equal.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(strings.ToLower(u))
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://"} {
		u = strings.TrimPrefix(u, prefix)
	}
	u = strings.TrimPrefix(u, "git@")
	if host, path, ok := strings.Cut(u, ":"); ok && !strings.Contains(host, "/") {
		u = host + "/" + path
	}
	u = strings.TrimSuffix(u, "/")
	return strings.TrimSuffix(u, ".git")
}
