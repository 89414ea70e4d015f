package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	flags, rest, err := SplitArgs([]string{
		"--listen", "--sage3", "--server-port", "8000", "--no-git-update",
		"--config", "/etc/wanctl.conf", "--attention", "sage", "--", "--sage2",
	})
	require.NoError(t, err)
	require.True(t, flags.Sage3)
	require.False(t, flags.Sage2)
	require.True(t, flags.NoGitUpdate)
	require.Equal(t, "/etc/wanctl.conf", flags.ConfigFile)
	require.Equal(t, []string{"--listen", "--server-port", "8000", "--attention", "sage", "--sage2"}, rest)
}

func TestSplitArgsAllLauncherFlags(t *testing.T) {
	flags, rest, err := SplitArgs([]string{
		"--rebuild-env", "--skip-package-check", "--sage2", "--t2v",
		"--disable-tcmalloc", "--clean-cache", "--dry-run", "--config=x.conf", "-h",
	})
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, LaunchFlags{
		RebuildEnv:       true,
		SkipPackageCheck: true,
		Sage2:            true,
		T2V:              true,
		DisableTcmalloc:  true,
		CleanCache:       true,
		DryRun:           true,
		Help:             true,
		ConfigFile:       "x.conf",
	}, flags)
}

func TestSplitArgsVerbosity(t *testing.T) {
	flags, rest, err := SplitArgs([]string{"-v", "2", "--listen"})
	require.NoError(t, err)
	require.Equal(t, "2", flags.Verbosity)
	require.Equal(t, []string{"--listen"}, rest, "-v is not forwarded to the application")

	flags, rest, err = SplitArgs([]string{"--v=3", "--vae-precision", "fp32"})
	require.NoError(t, err)
	require.Equal(t, "3", flags.Verbosity)
	require.Equal(t, []string{"--vae-precision", "fp32"}, rest)

	flags, _, err = SplitArgs([]string{"-v=4"})
	require.NoError(t, err)
	require.Equal(t, "4", flags.Verbosity)
}

func TestSplitArgsErrors(t *testing.T) {
	_, _, err := SplitArgs([]string{"--sage2", "--sage3"})
	require.ErrorContains(t, err, "mutually exclusive")

	_, _, err = SplitArgs([]string{"--config"})
	require.ErrorContains(t, err, "needs a value")
}

func TestHasFlag(t *testing.T) {
	require.True(t, HasFlag([]string{"--listen", "--server-port", "80"}, "server-port"))
	require.True(t, HasFlag([]string{"--server-port=80"}, "server-port"))
	require.False(t, HasFlag([]string{"--server-portal"}, "server-port"))
}
