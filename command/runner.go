// Package command runs external programs and returns structured results.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/ruteri/helix-container/interfaces"
)

// ExecRunner implements interfaces.Runner with os/exec.
type ExecRunner struct {
	// Env is appended to the process environment for every command.
	Env []string

	log *slog.Logger
}

// NewExecRunner creates a runner that logs each invocation at debug level.
func NewExecRunner(log *slog.Logger, env ...string) *ExecRunner {
	return &ExecRunner{Env: env, log: log}
}

// Run executes cmd and captures its output.
func (r *ExecRunner) Run(ctx context.Context, cmd interfaces.Command) (*interfaces.Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdin = cmd.Stdin
	c.Env = append(append(os.Environ(), r.Env...), cmd.Env...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := &interfaces.Result{
		Command:  cmd.String(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", cmd.String(), ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("could not run %s: %w", cmd.Name, err)
	}

	if r.log != nil {
		r.log.Debug("Command finished",
			slog.String("cmd", res.Command),
			slog.Int("exitCode", res.ExitCode),
			slog.Duration("duration", res.Duration))
	}
	return res, nil
}
