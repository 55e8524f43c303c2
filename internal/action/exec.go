package action

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result describes a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs a command with exact positional arguments.
// A non-nil error means the command could not be started or waited on.
// A command that ran and exited non-zero returns a nil error and a non-zero
// ExitCode.
type Executor interface {
	Execute(ctx context.Context, cmd string, args []string) (Result, error)
}

// ExecExecutor runs commands directly with os/exec, without a shell.
type ExecExecutor struct{}

func (ExecExecutor) Execute(ctx context.Context, cmd string, args []string) (Result, error) {
	var stdout, stderr bytes.Buffer

	c := exec.CommandContext(ctx, cmd, args...)
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}
