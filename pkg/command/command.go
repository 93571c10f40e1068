// Package command abstracts external process execution so that pipeline
// stages shelling out to ffmpeg or a transcription engine can be tested with
// a fake runner.
package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result captures one command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands via os/exec.
type Exec struct{}

var _ Runner = Exec{}

// Run executes one command and captures stdout, stderr and the exit code. The
// exit code is -1 when the process could not be started or was killed.
func (Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, name string, args ...string) (Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return f(ctx, name, args...)
}
