package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/instanceutils/secrets"
	"github.com/ruteri/helix-container/instanceutils/tlsprov"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/p4"
	"github.com/ruteri/helix-container/process"
)

const (
	DefaultFilesysMin   = "10M"
	DefaultReadyTimeout = 60 * time.Second
)

var (
	// ErrUnresolvedPlaceholder is returned when a rendered template still holds REPL_ tokens.
	ErrUnresolvedPlaceholder = errors.New("unresolved template placeholder")

	// ErrNotConnected is returned when the freshly started server does not answer.
	ErrNotConnected = errors.New("server not reachable after start")

	// ErrIncomplete is returned when first-run steps recorded errors. The setup marker
	// is withheld so the next boot runs first-run setup again.
	ErrIncomplete = errors.New("provisioning incomplete")
)

// Server is the process control surface the state machine drives.
type Server interface {
	Start(ctx context.Context) error
	Status(ctx context.Context) (process.State, error)
	Stop(ctx context.Context, timeout time.Duration) error
	WaitReady(ctx context.Context, timeout time.Duration) error
}

// TLS ensures the instance's TLS material.
type TLS interface {
	Ensure(ctx context.Context) (*tlsprov.Material, *interfaces.Report, error)
}

type Config struct {
	Instance interfaces.Instance
	Runner   interfaces.Runner
	Client   *p4.Client
	Server   Server
	// TLS is only consulted when the instance has SSL enabled.
	TLS     TLS
	Secrets *secrets.Resolver
	Log     *slog.Logger

	// Owner is the service account; Home its home directory holding client state.
	Owner *instanceutils.Owner
	Home  string

	MkdirsTemplate string
	TypemapFile    string
	ProtectFile    string
	FilesysMin     string

	StopTimeout  time.Duration
	ReadyTimeout time.Duration

	OnRun func(mode string)
	Now   func() time.Time
}

// Provisioner runs the provisioning state machine for one instance.
type Provisioner struct {
	cfg   Config
	inst  interfaces.Instance
	log   *slog.Logger
	state State
}

func New(cfg Config) *Provisioner {
	inst := cfg.Instance
	if cfg.MkdirsTemplate == "" {
		cfg.MkdirsTemplate = filepath.Join(inst.ConfigDir(), "mkdirs.cfg.template")
	}
	if cfg.TypemapFile == "" {
		cfg.TypemapFile = filepath.Join(inst.ConfigDir(), "typemap.txt")
	}
	if cfg.ProtectFile == "" {
		cfg.ProtectFile = filepath.Join(inst.ConfigDir(), "protect.txt")
	}
	if cfg.FilesysMin == "" {
		cfg.FilesysMin = DefaultFilesysMin
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = process.DefaultStopTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.OnRun == nil {
		cfg.OnRun = func(string) {}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Home == "" {
		cfg.Home = instanceutils.HomeDir(inst.ServiceUser)
	}

	p := &Provisioner{cfg: cfg, inst: inst, log: cfg.Log}
	p.state = p.Detect()
	return p
}

// State returns the current state of the machine.
func (p *Provisioner) State() State { return p.state }

func (p *Provisioner) transition(to State) {
	p.log.Info("provisioning state change", "from", p.state.String(), "to", to.String())
	p.state = to
}

// Detect reports StateUnprovisioned when the control script or the setup marker is missing.
func (p *Provisioner) Detect() State {
	if !instanceutils.Exists(p.inst.ControlScript()) {
		return StateUnprovisioned
	}
	if !instanceutils.Exists(p.inst.SetupMarker()) {
		return StateUnprovisioned
	}
	return StateProvisioned
}

// Run performs first-run setup or reconciliation, depending on the detected state.
// The error is fatal; recoverable step failures are recorded in the report.
func (p *Provisioner) Run(ctx context.Context) (*interfaces.Report, error) {
	p.state = p.Detect()
	switch p.state {
	case StateUnprovisioned:
		p.cfg.OnRun(ModeFirstRun)
		return p.FirstRun(ctx)
	default:
		p.cfg.OnRun(ModeReconcile)
		return p.Reconcile(ctx)
	}
}

// writeMarker records completed setup. An existing marker is never rewritten.
func (p *Provisioner) writeMarker() error {
	path := p.inst.SetupMarker()
	if instanceutils.Exists(path) {
		return nil
	}
	content := fmt.Sprintf("%s %s\n", p.cfg.Now().UTC().Format(time.RFC3339), common.Version)
	if err := instanceutils.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("could not write setup marker: %w", err)
	}
	p.log.Info("setup marker written", "path", path)
	return nil
}

// interrupted stops the server and returns a wrapped context error once ctx is done.
func (p *Provisioner) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		p.stopAfterFailure(ctx)
		return fmt.Errorf("provisioning interrupted: %w", err)
	}
	return nil
}

// stopAfterFailure leaves no half-configured server running behind a fatal error.
func (p *Provisioner) stopAfterFailure(ctx context.Context) {
	if err := p.cfg.Server.Stop(context.WithoutCancel(ctx), p.cfg.StopTimeout); err != nil {
		p.log.Error("could not stop server after failed provisioning", "err", err)
	}
}
