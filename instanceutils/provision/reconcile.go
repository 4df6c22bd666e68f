package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/process"
)

// Reconcile brings an existing instance back in line without repeating
// destructive steps. It never changes the password or the security level.
func (p *Provisioner) Reconcile(ctx context.Context) (*interfaces.Report, error) {
	report := interfaces.NewReport("reconcile", p.log)
	p.transition(StateReprovisionCheck)

	if err := p.reconcile(ctx, report); err != nil {
		report.Errorf("%v", err)
		p.log.Error("==== RECONCILIATION FAILED ====", "instance", p.inst.ID, "err", err)
		return report, err
	}

	p.transition(StateProvisioned)
	report.Banner(p.log)
	return report, nil
}

func (p *Provisioner) reconcile(ctx context.Context, report *interfaces.Report) error {
	inst := p.inst

	if inst.SSL && p.cfg.TLS != nil {
		_, tlsReport, err := p.cfg.TLS.Ensure(ctx)
		report.Merge(tlsReport)
		if err != nil {
			return fmt.Errorf("tls provisioning failed: %w", err)
		}
	}

	// Configuration commands against a stopped server would silently do nothing.
	startedHere := false
	state, err := p.cfg.Server.Status(ctx)
	if err != nil {
		p.log.Debug("server status unknown", "err", err)
	}
	if state != process.StateRunning {
		p.log.Info("starting server temporarily for reconciliation", "state", state.String())
		if err := p.cfg.Server.Start(ctx); err != nil {
			p.stopAfterFailure(ctx)
			return fmt.Errorf("could not start server: %w", err)
		}
		startedHere = true
		if err := p.checkConnectivity(ctx); err != nil {
			p.stopAfterFailure(ctx)
			return err
		}
	}

	if inst.SSL {
		if err := p.cfg.Client.Trust(ctx); err != nil {
			report.Warnf("p4 trust failed: %v", err)
		}
	}

	secret, err := p.cfg.Secrets.Lookup(ctx)
	switch {
	case errors.Is(err, interfaces.ErrContentNotFound):
		report.Warnf("no stored super user password, skipping login")
	case err != nil:
		report.Warnf("could not load super user password: %v", err)
	default:
		if err := p.cfg.Client.Login(ctx, secret.Value); err != nil {
			report.Warnf("p4 login failed: %v", err)
		}
	}

	if n := ApplyCriticalKeys(ctx, p.cfg.Client, report); n > 0 {
		p.log.Info("re-applied critical configuration keys", "changed", n)
	}

	linked, err := LinkBroker(inst)
	switch {
	case err != nil:
		report.Warnf("could not link broker: %v", err)
	case linked:
		p.log.Info("broker launcher linked", "instance", inst.ID)
	}

	if startedHere {
		if err := p.cfg.Server.Stop(context.WithoutCancel(ctx), p.cfg.StopTimeout); err != nil {
			if errors.Is(err, process.ErrStopFailed) {
				return err
			}
			report.Errorf("could not stop server: %v", err)
		}
	}
	return nil
}
