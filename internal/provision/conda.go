package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
)

// Conda manages one named conda environment.
type Conda struct {
	Runner runner.Runner
	Exe    string
	Env    string
}

type condaEnvList struct {
	Envs []string `json:"envs"`
}

// EnvPrefix returns the path of the environment, or "" when it does not exist.
func (c *Conda) EnvPrefix(ctx context.Context) (string, error) {
	out, err := c.Runner.Output(ctx, runner.New(c.Exe, "env", "list", "--json"))
	if err != nil {
		return "", fmt.Errorf("failed to list conda environments: %w", err)
	}
	var list condaEnvList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		return "", fmt.Errorf("failed to parse conda environment list: %w", err)
	}
	for _, prefix := range list.Envs {
		if filepath.Base(prefix) == c.Env && filepath.Base(filepath.Dir(prefix)) == "envs" {
			return prefix, nil
		}
	}
	return "", nil
}

// Create builds the environment from manifest when given, otherwise from a
// bare python of the requested version.
func (c *Conda) Create(ctx context.Context, manifest, pythonVersion string) error {
	var cmd runner.Cmd
	if manifest != "" {
		cmd = runner.New(c.Exe, "env", "create", "-n", c.Env, "-f", manifest)
	} else {
		cmd = runner.New(c.Exe, "create", "-y", "-n", c.Env, "python="+pythonVersion)
	}
	if err := c.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to create conda environment '%s': %w", c.Env, err)
	}
	return nil
}

// Remove deletes the environment.
func (c *Conda) Remove(ctx context.Context) error {
	if err := c.Runner.Run(ctx, runner.New(c.Exe, "env", "remove", "-y", "-n", c.Env)); err != nil {
		return fmt.Errorf("failed to remove conda environment '%s': %w", c.Env, err)
	}
	return nil
}

// Command runs args inside the environment without capturing output.
func (c *Conda) Command(args ...string) runner.Cmd {
	return runner.New(c.Exe, append([]string{"run", "-n", c.Env, "--no-capture-output"}, args...)...)
}

// Python runs the environment's python interpreter.
func (c *Conda) Python(args ...string) runner.Cmd {
	return c.Command(append([]string{"python"}, args...)...)
}

// PipInstall runs `python -m pip install args...` inside the environment.
func (c *Conda) PipInstall(ctx context.Context, dir string, args ...string) error {
	cmd := c.Python(append([]string{"-m", "pip", "install"}, args...)...)
	cmd.Dir = dir
	if err := c.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("pip install failed: %w", err)
	}
	return nil
}
