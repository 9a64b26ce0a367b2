// Package runner executes the external processes the launcher drives:
// the interpreter probe, the dependency installer and the application.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes a single external process invocation.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string // appended to the parent environment
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result reports how a process ended.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when a process ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// ExitCodeOf extracts the exit code carried by err, if any.
func ExitCodeOf(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode, true
	}
	return 0, false
}

// CommandRunner executes external commands.
// This interface enables testing without actual command execution.
type CommandRunner interface {
	// Run executes cmd and blocks until it exits.
	Run(ctx context.Context, cmd Command) (Result, error)

	// Output executes cmd and returns combined stdout/stderr output.
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner executes actual system commands.
type ExecRunner struct{}

// NewExecRunner creates a command runner that executes real commands.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes cmd with its stdio wired to the given streams, defaulting to
// the launcher's own stdio so the child owns the console.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := build(ctx, cmd)
	c.Stdin = orReader(cmd.Stdin, os.Stdin)
	c.Stdout = orWriter(cmd.Stdout, os.Stdout)
	c.Stderr = orWriter(cmd.Stderr, os.Stderr)

	start := time.Now()
	err := c.Run()
	res := Result{Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: cmd.String(), ExitCode: res.ExitCode}
	}
	res.ExitCode = -1
	return res, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
}

// Output executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	c := build(ctx, cmd)
	out, err := c.CombinedOutput()
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &ExitError{Command: cmd.String(), ExitCode: exitErr.ExitCode()}
	}
	return out, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
}

func build(ctx context.Context, cmd Command) *exec.Cmd {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	return c
}

func orReader(r, def io.Reader) io.Reader {
	if r != nil {
		return r
	}
	return def
}

func orWriter(w, def io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return def
}
