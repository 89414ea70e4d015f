package provision

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner/runnertest"
	"github.com/stretchr/testify/require"
)

func TestCheckoutExistingBranch(t *testing.T) {
	fake := runnertest.New()
	repo := &Repo{Runner: fake, Dir: "/srv/Wan2GP"}

	require.NoError(t, repo.Checkout(context.Background(), Ref{"upstream", "main"}))
	require.Equal(t, []string{
		"git -C /srv/Wan2GP rev-parse --verify --quiet refs/heads/main",
		"git -C /srv/Wan2GP checkout main",
		"git -C /srv/Wan2GP pull --ff-only upstream main",
	}, fake.Lines())
}

func TestCheckoutCreatesMissingBranch(t *testing.T) {
	fake := runnertest.New().On("refs/heads/dev", runnertest.Response{Err: errors.New("exit status 1")})
	repo := &Repo{Runner: fake, Dir: "/srv/Wan2GP"}

	require.NoError(t, repo.Checkout(context.Background(), Ref{"origin", "dev"}))
	require.True(t, fake.Ran("checkout -b dev --track origin/dev"))
	require.False(t, fake.Ran("checkout -B"))
}

func TestCheckoutDivergedBranch(t *testing.T) {
	fake := runnertest.New().On("pull --ff-only", runnertest.Response{Err: errors.New("exit status 128")})
	repo := &Repo{Runner: fake, Dir: "/srv/Wan2GP"}

	err := repo.Checkout(context.Background(), Ref{"origin", "main"})
	require.ErrorIs(t, err, ErrDiverged)
	require.Contains(t, err.Error(), "--no-git-update")
}

// gitFixture runs git with a throwaway identity and no user configuration.
func gitFixture(t *testing.T) func(dir string, args ...string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_CONFIG_GLOBAL", filepath.Join(home, ".gitconfig"))
	for _, key := range []string{"GIT_AUTHOR_NAME", "GIT_COMMITTER_NAME"} {
		t.Setenv(key, "wanctl")
	}
	for _, key := range []string{"GIT_AUTHOR_EMAIL", "GIT_COMMITTER_EMAIL"} {
		t.Setenv(key, "wanctl@example.com")
	}
	return func(dir string, args ...string) string {
		t.Helper()
		out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
		require.NoError(t, err, string(out))
		return strings.TrimSpace(string(out))
	}
}

func commitFile(t *testing.T, git func(string, ...string) string, dir, name, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(message), 0644))
	git(dir, "add", name)
	git(dir, "commit", "-q", "-m", message)
}

func TestCheckoutKeepsLocalCommits(t *testing.T) {
	git := gitFixture(t)
	ctx := context.Background()
	root := t.TempDir()

	upstream := filepath.Join(root, "upstream")
	require.NoError(t, os.Mkdir(upstream, 0755))
	git(upstream, "init", "-q", "-b", "main")
	commitFile(t, git, upstream, "README.md", "base")

	work := filepath.Join(root, "work")
	git(root, "clone", "-q", upstream, work)
	commitFile(t, git, work, "notes.txt", "local work")
	local := git(work, "rev-parse", "HEAD")

	repo := &Repo{Runner: runner.NewExec(), Dir: work}
	require.NoError(t, repo.Fetch(ctx, "origin"))
	ref, err := repo.ResolveBranch(ctx, RemoteOfficial, "")
	require.NoError(t, err)
	require.Equal(t, Ref{"origin", "main"}, ref)
	require.NoError(t, repo.Checkout(ctx, ref))
	require.Equal(t, local, git(work, "rev-parse", "HEAD"), "a branch ahead of its remote keeps its commits")

	// Once upstream moves on as well, the branch cannot be fast-forwarded.
	commitFile(t, git, upstream, "CHANGELOG.md", "upstream work")
	require.NoError(t, repo.Fetch(ctx, "origin"))
	require.ErrorIs(t, repo.Checkout(ctx, ref), ErrDiverged)
	require.Equal(t, local, git(work, "rev-parse", "HEAD"))
	require.Contains(t, git(work, "log", "--format=%s"), "local work")
}
