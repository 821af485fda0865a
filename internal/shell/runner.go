// Package shell runs external commands (docker, podman, buildah, test
// commands) behind an interface so engines can be exercised with fakes.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // nil inherits the parent environment

	Stdin io.Reader
	// Stdout and Stderr, when set, receive the stream in addition to the
	// captured Result buffers.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds captured output.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts the command and waits for it. A non-zero exit yields *ExitError
// alongside the captured result.
func (ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = c.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if c.Stdout != nil {
		// A streamed stdout can be arbitrarily large (image archives);
		// do not buffer it.
		cmd.Stdout = c.Stdout
	}
	cmd.Stderr = &stderr
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, c.Stderr)
	}

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Command: c.String(), ExitCode: res.ExitCode, Stderr: stderr.String()}
		}
		return res, fmt.Errorf("running %s: %w", c.String(), err)
	}
	return res, nil
}

// OrDefault returns r, or ExecRunner when r is nil.
func OrDefault(r Runner) Runner {
	if r == nil {
		return ExecRunner{}
	}
	return r
}
