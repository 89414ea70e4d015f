// Package runner executes external tools (conda, git, pip, nvidia-smi, ...)
// behind a small interface so provisioning logic can be exercised without
// spawning real processes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"
)

// Cmd describes a single external command invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current process environment.
	Env []string
	// Stdout and Stderr receive the command output for Run. Nil means the
	// launcher's own stdout/stderr.
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
	// Interrupt makes cancellation send SIGINT instead of SIGKILL and wait
	// up to WaitDelay before killing the process.
	Interrupt bool
	WaitDelay time.Duration
}

// New returns a Cmd for name and args.
func New(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// String renders the command line for logs.
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner runs commands to completion.
type Runner interface {
	// Run executes the command streaming its output.
	Run(ctx context.Context, c Cmd) error
	// Output executes the command and returns its trimmed stdout.
	Output(ctx context.Context, c Cmd) (string, error)
	// LookPath reports where an executable lives on PATH.
	LookPath(name string) (string, error)
}

// ExitCode extracts the exit status of a failed command, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Exec is the Runner backed by os/exec.
type Exec struct{}

// NewExec returns the os/exec backed Runner.
func NewExec() *Exec {
	return &Exec{}
}

func (e *Exec) command(ctx context.Context, c Cmd) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	if c.Interrupt {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGINT)
		}
		cmd.WaitDelay = c.WaitDelay
	}
	return cmd
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, c Cmd) error {
	cmd := e.command(ctx, c)
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	klog.V(2).Infof("Running: %s (dir=%q)", c, c.Dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", c.Name, err)
	}
	return nil
}

// Output implements Runner.
func (e *Exec) Output(ctx context.Context, c Cmd) (string, error) {
	cmd := e.command(ctx, c)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	klog.V(2).Infof("Running: %s (dir=%q)", c, c.Dir)
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return strings.TrimSpace(string(out)), fmt.Errorf("%s failed: %w: %s", c.Name, err, msg)
		}
		return strings.TrimSpace(string(out)), fmt.Errorf("%s failed: %w", c.Name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// LookPath implements Runner.
func (e *Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
