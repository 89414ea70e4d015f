// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
)

// Response is what a scripted command returns.
type Response struct {
	// Output is returned by Output and written to Cmd.Stdout by Run.
	Output string
	Err    error
}

type rule struct {
	match string
	resp  Response
	once  bool
	used  bool
}

// Fake records every command and answers from scripted rules. Rules match
// when their pattern is a substring of the rendered command line; the first
// matching rule wins and Once rules are consumed on use. Unmatched commands
// succeed with empty output.
type Fake struct {
	mu    sync.Mutex
	rules []*rule
	cmds  []runner.Cmd
	// Paths answers LookPath; missing names report exec.ErrNotFound.
	Paths map[string]string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{Paths: map[string]string{}}
}

// On scripts every command containing match.
func (f *Fake) On(match string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: match, resp: resp})
	return f
}

// Once scripts the next command containing match.
func (f *Fake) Once(match string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: match, resp: resp, once: true})
	return f
}

// WithPath registers an executable for LookPath.
func (f *Fake) WithPath(name string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Paths[name] = "/usr/bin/" + name
	return f
}

func (f *Fake) answer(c runner.Cmd) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, c)
	line := c.String()
	for _, r := range f.rules {
		if r.used || !strings.Contains(line, r.match) {
			continue
		}
		if r.once {
			r.used = true
		}
		return r.resp
	}
	return Response{}
}

// Run implements runner.Runner.
func (f *Fake) Run(_ context.Context, c runner.Cmd) error {
	resp := f.answer(c)
	if resp.Output != "" && c.Stdout != nil {
		_, _ = io.WriteString(c.Stdout, resp.Output+"\n")
	}
	return resp.Err
}

// Output implements runner.Runner.
func (f *Fake) Output(_ context.Context, c runner.Cmd) (string, error) {
	resp := f.answer(c)
	return resp.Output, resp.Err
}

// LookPath implements runner.Runner.
func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Paths[name]; ok {
		return p, nil
	}
	return "", exec.ErrNotFound
}

// Cmds returns the recorded commands in order.
func (f *Fake) Cmds() []runner.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Cmd(nil), f.cmds...)
}

// Lines returns the recorded command lines in order.
func (f *Fake) Lines() []string {
	var lines []string
	for _, c := range f.Cmds() {
		lines = append(lines, c.String())
	}
	return lines
}

// Ran reports whether any recorded command line contains match.
func (f *Fake) Ran(match string) bool {
	for _, line := range f.Lines() {
		if strings.Contains(line, match) {
			return true
		}
	}
	return false
}

// Find returns the first recorded command whose line contains match.
func (f *Fake) Find(match string) (runner.Cmd, bool) {
	for _, c := range f.Cmds() {
		if strings.Contains(c.String(), match) {
			return c, true
		}
	}
	return runner.Cmd{}, false
}
