package command

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ruteri/helix-container/interfaces"
)

// HandlerFunc answers one scripted invocation. stdin holds whatever the caller piped in.
type HandlerFunc func(cmd interfaces.Command, stdin string) (*interfaces.Result, error)

// ScriptedRunner is an in-memory interfaces.Runner used by tests across packages.
// Commands are matched by the longest registered prefix of their short form,
// "<basename of Name> <args...>". Unmatched commands succeed with empty output.
type ScriptedRunner struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []string
	stdins   []string
}

// NewScriptedRunner creates an empty ScriptedRunner.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{handlers: make(map[string]HandlerFunc)}
}

// On registers fn for commands whose short form starts with prefix.
func (s *ScriptedRunner) On(prefix string, fn HandlerFunc) *ScriptedRunner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[prefix] = fn
	return s
}

// OnExit registers a fixed exit code and stdout for prefix.
func (s *ScriptedRunner) OnExit(prefix string, code int, stdout string) *ScriptedRunner {
	return s.On(prefix, func(cmd interfaces.Command, _ string) (*interfaces.Result, error) {
		return &interfaces.Result{Command: cmd.String(), ExitCode: code, Stdout: stdout}, nil
	})
}

// Run implements interfaces.Runner.
func (s *ScriptedRunner) Run(ctx context.Context, cmd interfaces.Command) (*interfaces.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stdin string
	if cmd.Stdin != nil {
		data, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return nil, err
		}
		stdin = string(data)
	}

	short := ShortForm(cmd)

	s.mu.Lock()
	s.calls = append(s.calls, short)
	s.stdins = append(s.stdins, stdin)
	var best string
	var fn HandlerFunc
	for prefix, h := range s.handlers {
		if strings.HasPrefix(short, prefix) && len(prefix) >= len(best) {
			best, fn = prefix, h
		}
	}
	s.mu.Unlock()

	if fn == nil {
		return &interfaces.Result{Command: cmd.String()}, nil
	}
	return fn(cmd, stdin)
}

// Calls returns the short form of every invocation so far, in order.
func (s *ScriptedRunner) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how many invocations started with prefix.
func (s *ScriptedRunner) Count(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// StdinFor returns the stdin of the last invocation starting with prefix.
func (s *ScriptedRunner) StdinFor(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(s.calls[i], prefix) {
			return s.stdins[i]
		}
	}
	return ""
}

// ShortForm renders cmd as "<basename> <args...>".
func ShortForm(cmd interfaces.Command) string {
	parts := append([]string{filepath.Base(cmd.Name)}, cmd.Args...)
	return strings.Join(parts, " ")
}
