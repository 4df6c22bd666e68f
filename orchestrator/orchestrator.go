// Package orchestrator is the container entrypoint flow: provision, start, wait for a
// termination signal, stop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/ruteri/helix-container/instanceutils/tlsprov"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/process"
	"github.com/skovtunenko/graterm"
	"go.uber.org/atomic"
)

const (
	DefaultReadyTimeout = 60 * time.Second

	statusHookOrder graterm.Order = 0
	serverHookOrder graterm.Order = 1

	statusShutdownTimeout = 5 * time.Second
	shutdownSlack         = 10 * time.Second
)

// ErrShutdownTimeout is returned when the termination hooks outlive their budget.
var ErrShutdownTimeout = errors.New("graceful shutdown timed out")

type Provisioner interface {
	Run(ctx context.Context) (*interfaces.Report, error)
}

type TLS interface {
	Ensure(ctx context.Context) (*tlsprov.Material, *interfaces.Report, error)
}

// Server is the managed server process, see process.Controller.
type Server interface {
	Start(ctx context.Context) error
	WaitReady(ctx context.Context, timeout time.Duration) error
	Stop(ctx context.Context, timeout time.Duration) error
	KillGrace() time.Duration
}

// StatusServer is the optional status HTTP server, see httpserver.Server.
type StatusServer interface {
	RunInBackground()
	Shutdown()
	MarkReady(ready bool)
	SetFingerprint(fp string)
}

type Config struct {
	Instance    interfaces.Instance
	Provisioner Provisioner
	TLS         TLS
	Server      Server
	Status      StatusServer
	Log         *slog.Logger

	StopTimeout  time.Duration
	ReadyTimeout time.Duration
	// Signals default to SIGINT and SIGTERM.
	Signals []os.Signal
}

type Orchestrator struct {
	cfg     Config
	log     *slog.Logger
	stopErr atomic.Error
}

func New(cfg Config) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = process.DefaultStopTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &Orchestrator{cfg: cfg, log: cfg.Log}
}

// stopBudget covers the graceful stop plus both SIGKILL rounds.
func (o *Orchestrator) stopBudget() time.Duration {
	return o.cfg.StopTimeout + 2*o.cfg.Server.KillGrace()
}

// Run brings the server up and blocks until ctx is cancelled or a termination signal
// arrives, then stops it. A nil return means the server was provisioned, served and
// stopped cleanly.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	terminator, appCtx := graterm.NewWithSignals(ctx, o.cfg.Signals...)
	terminator.SetLogger(slog.NewLogLogger(o.log.Handler(), slog.LevelInfo))

	inst := o.cfg.Instance
	o.log.Info("orchestrator starting", "instance", inst.ID, "port", inst.P4Port())

	report, err := o.cfg.Provisioner.Run(appCtx)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}
	if report.Failed() {
		o.log.Warn("provisioning finished with errors, starting anyway", "errors", len(report.Errors))
	}

	var fingerprint string
	if inst.SSL {
		material, _, err := o.cfg.TLS.Ensure(appCtx)
		if err != nil {
			return fmt.Errorf("TLS setup failed: %w", err)
		}
		fingerprint = material.Fingerprint
	}

	// Hooks only run from terminator.Wait, so registering before Start is safe on early returns.
	terminator.WithOrder(serverHookOrder).
		WithName("p4d").
		Register(o.stopBudget()+shutdownSlack/2, func(hookCtx context.Context) {
			o.log.Info("termination requested, stopping server", "timeout", o.cfg.StopTimeout)
			if err := o.cfg.Server.Stop(hookCtx, o.cfg.StopTimeout); err != nil {
				o.log.Error("server stop failed", "err", err)
				o.stopErr.Store(err)
				return
			}
			o.log.Info("server stopped")
		})

	if err := o.cfg.Server.Start(appCtx); err != nil {
		o.stopAfterFailure(ctx)
		return fmt.Errorf("server start failed: %w", err)
	}
	if err := o.cfg.Server.WaitReady(appCtx, o.cfg.ReadyTimeout); err != nil {
		o.stopAfterFailure(ctx)
		return fmt.Errorf("server not ready: %w", err)
	}

	if o.cfg.Status != nil {
		terminator.WithOrder(statusHookOrder).
			WithName("status-server").
			Register(statusShutdownTimeout, func(_ context.Context) {
				o.cfg.Status.Shutdown()
			})
		o.cfg.Status.SetFingerprint(fingerprint)
		o.cfg.Status.RunInBackground()
		o.cfg.Status.MarkReady(true)
	}

	if fingerprint != "" {
		o.log.Info("==== READY ====", "port", inst.P4Port(), "fingerprint", fingerprint)
	} else {
		o.log.Info("==== READY ====", "port", inst.P4Port())
	}

	if err := terminator.Wait(appCtx, o.stopBudget()+shutdownSlack); err != nil {
		o.log.Error("graceful termination period timed out", "err", err)
		return fmt.Errorf("%w: %v", ErrShutdownTimeout, err)
	}

	if err := o.stopErr.Load(); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	o.log.Info("orchestrator exiting")
	return nil
}

func (o *Orchestrator) stopAfterFailure(ctx context.Context) {
	if err := o.cfg.Server.Stop(context.WithoutCancel(ctx), o.cfg.StopTimeout); err != nil {
		o.log.Error("could not stop server after failed start", "err", err)
	}
}
