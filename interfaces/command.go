package interfaces

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Command describes one invocation of an external program.
type Command struct {
	Name  string
	Args  []string
	Env   []string // appended to the current environment
	Dir   string
	Stdin io.Reader

	// Timeout bounds the invocation; zero means only ctx applies.
	Timeout time.Duration
}

// String renders the command line for logs. Stdin is never rendered.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the structured outcome of a command that ran to completion.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports a zero exit status.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Err converts a non-zero exit into an *ExitError.
func (r *Result) Err() error {
	if r.Success() {
		return nil
	}
	return &ExitError{Result: r}
}

// ExitError is returned for commands that ran but exited non-zero.
type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Sprintf("%q exited with status %d: %s", e.Result.Command, e.Result.ExitCode, msg)
}

// Runner executes external commands.
//
// Run returns a Result whenever the program ran, regardless of its exit status.
// The error is non-nil only when the program could not be started or did not
// finish (missing binary, cancelled context, timeout).
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunChecked runs cmd and folds a non-zero exit into the returned error.
func RunChecked(ctx context.Context, r Runner, cmd Command) (*Result, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	return res, res.Err()
}
