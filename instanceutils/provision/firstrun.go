package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/instanceutils/secrets"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/process"
)

// FirstRun installs and configures a new instance and leaves the server stopped.
func (p *Provisioner) FirstRun(ctx context.Context) (*interfaces.Report, error) {
	report := interfaces.NewReport("provisioning", p.log)
	p.transition(StateProvisioning)

	err := p.firstRun(ctx, report)
	if err != nil {
		report.Errorf("%v", err)
		p.transition(StateUnprovisioned)
		p.log.Error("==== PROVISIONING FAILED ====", "instance", p.inst.ID, "err", err)
		return report, err
	}
	if report.Failed() {
		err := fmt.Errorf("%w: %d step(s) failed", ErrIncomplete, len(report.Errors))
		p.transition(StateUnprovisioned)
		p.log.Error("==== PROVISIONING INCOMPLETE ====", "instance", p.inst.ID, "err", err)
		report.Banner(p.log)
		return report, err
	}

	if err := p.writeMarker(); err != nil {
		report.Errorf("%v", err)
		return report, err
	}
	p.transition(StateProvisioned)
	p.log.Info("==== PROVISIONING COMPLETE ====", "instance", p.inst.ID, "port", p.inst.P4Port())
	report.Banner(p.log)
	return report, nil
}

func (p *Provisioner) firstRun(ctx context.Context, report *interfaces.Report) error {
	inst := p.inst

	secret, err := p.cfg.Secrets.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("could not resolve super user password: %w", err)
	}

	// 1. mkdirs configuration
	if err := p.renderMkdirsConfig(secret.Value); err != nil {
		return err
	}

	// 2. instance layout
	mkdirs := interfaces.Command{
		Name: filepath.Join(inst.CommonBin(), "mkdirs.sh"),
		Args: []string{inst.ID},
		Dir:  inst.ConfigDir(),
	}
	if _, err := interfaces.RunChecked(ctx, p.cfg.Runner, mkdirs); err != nil {
		return fmt.Errorf("mkdirs.sh failed: %w", err)
	}

	// 3. unicode
	if inst.Unicode {
		if err := p.cfg.Client.EnableUnicode(ctx); err != nil {
			return fmt.Errorf("could not enable unicode mode: %w", err)
		}
	}

	// 4. tls before the first start
	if inst.SSL && p.cfg.TLS != nil {
		_, tlsReport, err := p.cfg.TLS.Ensure(ctx)
		report.Merge(tlsReport)
		if err != nil {
			return fmt.Errorf("tls provisioning failed: %w", err)
		}
	}

	// 5. start
	if err := p.cfg.Server.Start(ctx); err != nil {
		p.stopAfterFailure(ctx)
		return fmt.Errorf("could not start server: %w", err)
	}

	// 6. trust our own certificate
	if inst.SSL {
		if err := p.cfg.Client.Trust(ctx); err != nil {
			report.Warnf("p4 trust failed: %v", err)
		}
	}

	// 7. connectivity
	if err := p.checkConnectivity(ctx); err != nil {
		p.stopAfterFailure(ctx)
		return err
	}
	if err := p.interrupted(ctx); err != nil {
		return err
	}

	// 8, 9. configure_new_server.sh with small filesys minimums
	p.configureNewServer(ctx, report)

	// 10. critical keys
	if err := p.interrupted(ctx); err != nil {
		return err
	}
	if n := ApplyCriticalKeys(ctx, p.cfg.Client, report); n > 0 {
		p.log.Info("applied critical configuration keys", "changed", n)
	}

	// 11. typemap and protections
	p.loadTable(ctx, report, "typemap", p.cfg.TypemapFile, p.cfg.Client.LoadTypemap)
	p.loadTable(ctx, report, "protections", p.cfg.ProtectFile, p.cfg.Client.LoadProtections)

	// 12. super user password
	if err := p.interrupted(ctx); err != nil {
		return err
	}
	if err := p.cfg.Client.SetPassword(ctx, secret.Value); err != nil {
		report.Errorf("%v", err)
	} else {
		secrets.Banner(p.log, inst.P4User, secret)
		if err := p.cfg.Client.Login(ctx, secret.Value); err != nil {
			report.Errorf("p4 login failed: %v", err)
		}
	}

	// 13. client state ownership
	p.chownClientState(report)

	// 14. checkpoint
	if err := p.interrupted(ctx); err != nil {
		return err
	}
	if err := p.cfg.Client.LiveCheckpoint(ctx); err != nil {
		report.Errorf("live checkpoint failed: %v", err)
	}

	// 15. security level
	if err := p.cfg.Client.ConfigureSet(ctx, "security", fmt.Sprint(inst.SecurityLevel)); err != nil {
		report.Errorf("%v", err)
	}

	// 16. leave startup to the entrypoint
	if err := p.interrupted(ctx); err != nil {
		return err
	}
	if err := p.cfg.Server.Stop(context.WithoutCancel(ctx), p.cfg.StopTimeout); err != nil {
		if errors.Is(err, process.ErrStopFailed) {
			return err
		}
		report.Errorf("could not stop server: %v", err)
	}
	return nil
}

func (p *Provisioner) renderMkdirsConfig(adminPassword string) error {
	tmpl, err := os.ReadFile(p.cfg.MkdirsTemplate)
	if err != nil {
		return fmt.Errorf("could not read mkdirs template: %w", err)
	}
	rendered, err := RenderTemplate(string(tmpl), Placeholders(p.inst, adminPassword))
	if err != nil {
		return fmt.Errorf("%s: %w", p.cfg.MkdirsTemplate, err)
	}

	out := filepath.Join(p.inst.ConfigDir(), "mkdirs."+p.inst.ID+".cfg")
	if err := instanceutils.WriteFileAtomic(out, []byte(rendered), 0o600); err != nil {
		return fmt.Errorf("could not write %s: %w", out, err)
	}
	if err := instanceutils.ChownIfRoot(p.cfg.Owner, out); err != nil {
		p.log.Warn("could not chown mkdirs configuration", "err", err)
	}
	p.log.Info("rendered mkdirs configuration", "path", out)
	return nil
}

func (p *Provisioner) checkConnectivity(ctx context.Context) error {
	if err := p.cfg.Server.WaitReady(ctx, p.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if _, err := p.cfg.Client.Info(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (p *Provisioner) configureNewServer(ctx context.Context, report *interfaces.Report) {
	script := filepath.Join(p.inst.CommonBin(), "configure_new_server.sh")
	if !instanceutils.Exists(script) {
		report.Warnf("%s not found, skipping server configuration", script)
		return
	}

	changed, err := patchFile(script, p.cfg.FilesysMin)
	switch {
	case err != nil:
		report.Warnf("could not patch filesys minimums: %v", err)
	case changed:
		p.log.Info("patched filesys minimums", "script", script, "value", p.cfg.FilesysMin)
	}

	cmd := interfaces.Command{Name: script, Args: []string{p.inst.ID}}
	if _, err := interfaces.RunChecked(ctx, p.cfg.Runner, cmd); err != nil {
		report.Errorf("configure_new_server.sh failed: %v", err)
	}
}

func (p *Provisioner) loadTable(ctx context.Context, report *interfaces.Report, name, path string, load func(context.Context, io.Reader) error) {
	f, err := os.Open(path)
	if err != nil {
		report.Warnf("skipping %s: %v", name, err)
		return
	}
	defer f.Close()

	if err := load(ctx, f); err != nil {
		report.Warnf("could not load %s from %s: %v", name, path, err)
		return
	}
	p.log.Info("loaded table", "table", name, "path", path)
}

func (p *Provisioner) chownClientState(report *interfaces.Report) {
	if !instanceutils.IsRoot() || p.cfg.Owner == nil {
		return
	}
	if p.cfg.Home == "" {
		report.Warnf("home of %s unknown, client state ownership not fixed", p.inst.ServiceUser)
		return
	}
	var paths []string
	for _, name := range []string{".p4tickets", ".p4trust", ".p4enviro"} {
		paths = append(paths, filepath.Join(p.cfg.Home, name))
	}
	if err := instanceutils.ChownIfRoot(p.cfg.Owner, paths...); err != nil {
		report.Warnf("could not fix client state ownership: %v", err)
	}
}
