package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "absent.conf")})
	require.NoError(t, err)
	require.Equal(t, "", cfg.File)
	require.Equal(t, "wan2gp", cfg.CondaEnv)
	require.Equal(t, "auto", cfg.SageVersion)
	require.False(t, cfg.SageExplicit)
	require.True(t, cfg.SageArchAuto)
	require.Equal(t, 7860, cfg.ServerPort)
	require.Equal(t, int64(20)<<30, cfg.CacheLimitBytes)
	require.Equal(t, 2*time.Minute, cfg.LockTimeout)
	require.Equal(t, []string{"ckpts", "loras", "loras_i2v", "finetunes", "settings"}, cfg.LinkDirs)
	require.Equal(t, []string{"torch==2.7.1", "torchvision", "torchaudio"}, cfg.TorchPackages)
}

func TestLoadShellStyleFile(t *testing.T) {
	project := t.TempDir()
	path := writeConfig(t, "wanctl.conf", `
# launcher settings
export CONDA_ENV=wan-dev
PROJECT_DIR="`+project+`"
SAGE_VERSION=3
SERVER_PORT=7861
APP_ARGS="--listen --attention 'sage 2'"
LINK_DIRS=ckpts, loras
`)

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	require.Equal(t, path, cfg.File)
	require.Equal(t, "wan-dev", cfg.CondaEnv)
	require.Equal(t, project, cfg.ProjectDir)
	require.Equal(t, "3", cfg.SageVersion)
	require.Equal(t, 7861, cfg.ServerPort)
	require.Equal(t, []string{"--listen", "--attention", "sage 2"}, cfg.AppArgs)
	require.Equal(t, []string{"ckpts", "loras"}, cfg.LinkDirs)
	require.Equal(t, filepath.Join(project, "requirements.txt"), cfg.RequirementsPath())
	require.Equal(t, filepath.Join(project, "wgp_config.json"), cfg.AppConfigPath())
}

func TestLoadEmptyValuesFallBackToDefaults(t *testing.T) {
	path := writeConfig(t, "wanctl.conf", "CONDA_ENV=\nSAGE_ARCH_AUTO=\nSERVER_PORT=\n")

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	require.Equal(t, "wan2gp", cfg.CondaEnv)
	require.True(t, cfg.SageArchAuto)
	require.Equal(t, 7860, cfg.ServerPort)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, "wanctl.yaml", "conda_env: from-yaml\nmax_jobs: 6\n")

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	require.Equal(t, "from-yaml", cfg.CondaEnv)
	require.Equal(t, 6, cfg.MaxJobs)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "wanctl.conf", "CONDA_ENV=from-file\nSAGE_VERSION=2\nBRANCH=dev\n")
	t.Setenv("WANCTL_BRANCH", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("env-name", "", "")
	fs.String("version", "", "")
	require.NoError(t, fs.Parse([]string{"--version", "none"}))

	cfg, err := Load(LoadOptions{
		File:     path,
		Flags:    fs,
		FlagKeys: map[string]string{"env-name": KeyCondaEnv, "version": KeySageVersion},
	})
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.CondaEnv, "unset flag must not shadow the file")
	require.Equal(t, "none", cfg.SageVersion, "set flag wins over the file")
	require.Equal(t, "from-env", cfg.Branch, "environment wins over the file")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, content := range map[string]string{
		"port":       "SERVER_PORT=70000\n",
		"sage":       "SAGE_VERSION=4\n",
		"mode":       "DEFAULT_MODE=v2v\n",
		"preference": "REPO_PREFERENCE=fork\n",
		"boolean":    "NO_GIT_UPDATE=maybe\n",
		"timeout":    "LOCK_TIMEOUT=soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(LoadOptions{File: writeConfig(t, "wanctl.conf", content)})
			require.Error(t, err)
		})
	}
}

func TestValidateContentDirOutsideProject(t *testing.T) {
	valid := func(content string) error {
		cfg := Config{
			CondaEnv:     "wan2gp",
			ProjectDir:   "/srv/Wan2GP",
			OfficialRepo: "https://github.com/deepbeepmeep/Wan2GP.git",
			ServerPort:   7860,
			SageVersion:  "auto",
			ContentDir:   content,
		}
		return cfg.Validate()
	}

	require.NoError(t, valid(""))
	require.NoError(t, valid("/srv/content"))
	require.NoError(t, valid("/srv/Wan2GP-content"))
	require.ErrorContains(t, valid("/srv/Wan2GP"), "CONTENT_DIR")
	require.ErrorContains(t, valid("/srv/Wan2GP/"), "CONTENT_DIR")
	require.ErrorContains(t, valid("/srv/Wan2GP/content"), "CONTENT_DIR")

	path := writeConfig(t, "wanctl.conf", "PROJECT_DIR=/srv/Wan2GP\nCONTENT_DIR=/srv/Wan2GP\n")
	_, err := Load(LoadOptions{File: path})
	require.ErrorContains(t, err, "must be outside")
}

func TestWithLaunchFlags(t *testing.T) {
	base := Config{SageVersion: "auto", DefaultMode: "i2v"}

	forced := base.WithLaunchFlags(LaunchFlags{Sage3: true, NoGitUpdate: true, T2V: true})
	require.Equal(t, "3", forced.SageVersion)
	require.True(t, forced.SageExplicit)
	require.True(t, forced.NoGitUpdate)
	require.True(t, forced.T2V)

	require.Equal(t, "auto", base.SageVersion, "original config is not modified")
	require.False(t, base.SageExplicit)

	untouched := base.WithLaunchFlags(LaunchFlags{})
	require.Equal(t, "auto", untouched.SageVersion)
	require.False(t, untouched.SageExplicit)
}

func TestLockPath(t *testing.T) {
	cfg := Config{ProjectDir: "/opt/Wan2GP/"}
	require.Equal(t, "/opt/Wan2GP.wanctl.lock", cfg.LockPath())
}
