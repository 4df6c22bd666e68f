package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/ruteri/helix-container/interfaces"
)

const (
	DefaultStopTimeout   = 20 * time.Second
	DefaultSettleDelay   = 2 * time.Second
	DefaultPollInterval  = time.Second
	DefaultKillGrace     = 5 * time.Second
	DefaultReadyInterval = 500 * time.Millisecond

	statusTimeout = 30 * time.Second
	startTimeout  = 5 * time.Minute
)

var (
	// ErrStopFailed means the server survived every escalation stage.
	ErrStopFailed = errors.New("server process did not stop")

	// ErrNotReady is returned by WaitReady when the port never accepted a connection.
	ErrNotReady = errors.New("server did not become ready")
)

// Escalation stages reported through ControllerConfig.OnEscalation.
const (
	StageKill      = "sigkill"
	StagePortOwner = "port_owner"
)

type ControllerConfig struct {
	Instance interfaces.Instance
	Runner   interfaces.Runner
	Log      *slog.Logger

	// Table defaults to the OS process table.
	Table ProcessTable
	// Resolver defaults to pid file, then pattern, then port owner.
	Resolver Resolver
	// PortResolver is used for the last escalation stage.
	PortResolver Resolver
	ProcMount    string

	SettleDelay   time.Duration
	PollInterval  time.Duration
	KillGrace     time.Duration
	ReadyInterval time.Duration

	// Dial probes readiness; defaults to a TCP dial.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	OnEscalation func(stage string)
}

// Controller starts, stops and inspects the server through its control script.
type Controller struct {
	cfg  ControllerConfig
	inst interfaces.Instance
	log  *slog.Logger
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Table == nil {
		cfg.Table = OSProcessTable{}
	}
	if cfg.ProcMount == "" {
		cfg.ProcMount = "/proc"
	}
	if cfg.PortResolver == nil {
		cfg.PortResolver = PortOwnerResolver{ProcMount: cfg.ProcMount, Port: cfg.Instance.Port}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = Chain(cfg.Log,
			PIDFileResolver{Path: cfg.Instance.PIDFile()},
			PatternResolver{ProcMount: cfg.ProcMount, Pattern: ServerPattern(cfg.Instance.ID), Self: os.Getpid()},
			cfg.PortResolver,
		)
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = DefaultReadyInterval
	}
	if cfg.Dial == nil {
		cfg.Dial = (&net.Dialer{Timeout: time.Second}).DialContext
	}
	if cfg.OnEscalation == nil {
		cfg.OnEscalation = func(string) {}
	}

	return &Controller{cfg: cfg, inst: cfg.Instance, log: cfg.Log}
}

// KillGrace is how long the controller waits after each SIGKILL round.
func (c *Controller) KillGrace() time.Duration { return c.cfg.KillGrace }

func (c *Controller) control(action string, timeout time.Duration) interfaces.Command {
	return interfaces.Command{
		Name:    c.inst.ControlScript(),
		Args:    []string{action},
		Timeout: timeout,
	}
}

// Start runs the control script and waits the settle delay. It does not wait for readiness.
func (c *Controller) Start(ctx context.Context) error {
	c.log.Info("starting server", "instance", c.inst.ID)
	if _, err := interfaces.RunChecked(ctx, c.cfg.Runner, c.control("start", startTimeout)); err != nil {
		return fmt.Errorf("control script start failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.SettleDelay):
	}
	return nil
}

// Status asks the control script. Execution failures and unexpected exit codes are StateUnknown.
func (c *Controller) Status(ctx context.Context) (State, error) {
	res, err := c.cfg.Runner.Run(ctx, c.control("status", statusTimeout))
	if err != nil {
		return StateUnknown, fmt.Errorf("control script status failed: %w", err)
	}
	return stateFromExit(res.ExitCode), nil
}

// WaitReady polls the listen address until it accepts a TCP connection.
func (c *Controller) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := c.inst.ListenAddress()
	ticker := time.NewTicker(c.cfg.ReadyInterval)
	defer ticker.Stop()

	for {
		conn, err := c.cfg.Dial(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			c.log.Info("server is accepting connections", "addr", addr)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s within %s: %v", ErrNotReady, addr, timeout, err)
		case <-ticker.C:
		}
	}
}

// Stop stops the server, escalating to SIGKILL of the resolved pids and then of the
// port owners. It returns nil only once no server process remains.
func (c *Controller) Stop(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	// The script and the wait for exit share one budget.
	deadline := time.Now().Add(timeout)

	// Resolve before the script runs; a clean stop removes the pid file.
	pids := c.resolve(ctx)

	res, err := c.cfg.Runner.Run(ctx, c.control("stop", timeout))
	switch {
	case err != nil:
		c.log.Warn("control script stop failed", "err", err)
	case !res.Success():
		c.log.Warn("control script stop failed", "err", res.Err())
	}

	pids = union(pids, c.resolve(ctx))
	remaining := c.waitGone(ctx, pids, time.Until(deadline))
	if len(remaining) == 0 {
		return c.stopped()
	}

	c.log.Warn("server did not stop in time, sending SIGKILL", "pids", remaining, "timeout", timeout)
	c.cfg.OnEscalation(StageKill)
	c.kill(remaining)
	remaining = c.waitGone(ctx, remaining, c.cfg.KillGrace)
	if len(remaining) == 0 {
		return c.stopped()
	}

	owners, err := c.cfg.PortResolver.Resolve(ctx)
	if err != nil {
		c.log.Warn("could not resolve port owners", "err", err)
	}
	owners = alive(c.cfg.Table, owners)
	if len(owners) > 0 {
		c.log.Warn("killing processes holding the server port", "port", c.inst.Port, "pids", owners)
		c.cfg.OnEscalation(StagePortOwner)
		c.kill(owners)
		remaining = c.waitGone(ctx, union(remaining, owners), c.cfg.KillGrace)
	}

	if len(remaining) == 0 {
		return c.stopped()
	}
	c.log.Error("server process survived SIGKILL", "pids", remaining)
	return fmt.Errorf("%w: pids %v still alive", ErrStopFailed, remaining)
}

func (c *Controller) stopped() error {
	if err := os.Remove(c.inst.PIDFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("could not remove pid file", "path", c.inst.PIDFile(), "err", err)
	}
	c.log.Info("server stopped", "instance", c.inst.ID)
	return nil
}

func (c *Controller) resolve(ctx context.Context) []int {
	pids, err := c.cfg.Resolver.Resolve(ctx)
	if err != nil {
		c.log.Debug("pid resolution failed", "err", err)
		return nil
	}
	return alive(c.cfg.Table, pids)
}

func (c *Controller) kill(pids []int) {
	for _, pid := range pids {
		if err := c.cfg.Table.Signal(pid, syscall.SIGKILL); err != nil {
			c.log.Warn("SIGKILL failed", "pid", pid, "err", err)
		}
	}
}

// waitGone polls until none of pids is alive or wait elapses. It returns the survivors.
// Cancellation of ctx ends the wait early so escalation can proceed.
func (c *Controller) waitGone(ctx context.Context, pids []int, wait time.Duration) []int {
	deadline := time.Now().Add(wait)
	for {
		pids = alive(c.cfg.Table, pids)
		if len(pids) == 0 || !time.Now().Before(deadline) {
			return pids
		}

		select {
		case <-ctx.Done():
			return alive(c.cfg.Table, pids)
		case <-time.After(min(c.cfg.PollInterval, time.Until(deadline))):
		}
	}
}

func union(a, b []int) []int {
	out := slices.Clone(a)
	for _, pid := range b {
		if !slices.Contains(out, pid) {
			out = append(out, pid)
		}
	}
	return out
}
