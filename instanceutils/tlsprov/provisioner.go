package tlsprov

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ruteri/helix-container/cryptoutils"
	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/process"
)

const (
	KeyFile    = "privatekey.txt"
	CertFile   = "certificate.txt"
	ConfigFile = "config.txt"

	DirPerm  fs.FileMode = 0o700
	KeyPerm  fs.FileMode = 0o600
	CertPerm fs.FileMode = 0o644
)

var (
	// ErrInsecureKey is returned when the private key is readable by anyone but its owner
	// or is owned by the wrong account.
	ErrInsecureKey = errors.New("private key is not adequately protected")

	// ErrMissingMaterial is returned when generation did not leave both files behind.
	ErrMissingMaterial = errors.New("tls material missing")
)

// ServerControl is the part of the process controller needed to regenerate material safely.
type ServerControl interface {
	Status(ctx context.Context) (process.State, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context, timeout time.Duration) error
}

type Config struct {
	Instance  interfaces.Instance
	Generator Generator
	Log       *slog.Logger

	// Server is stopped around generation when it was running. Nil skips that.
	Server      ServerControl
	StopTimeout time.Duration

	// Owner receives the material when running as root. Nil means unknown.
	Owner *instanceutils.Owner

	// Request overrides the certificate subject; zero value derives it from the instance.
	Request *cryptoutils.CertRequest
}

// Material describes the verified TLS files of an instance.
type Material struct {
	Dir         string
	KeyPath     string
	CertPath    string
	Fingerprint string
	NotAfter    time.Time
	Generated   bool
}

// Provisioner ensures the TLS material of one instance.
type Provisioner struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Provisioner {
	if cfg.Generator == nil {
		cfg.Generator = BuiltinGenerator{}
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = process.DefaultStopTimeout
	}
	return &Provisioner{cfg: cfg, log: cfg.Log}
}

func (p *Provisioner) paths() (dir, key, cert string) {
	dir = p.cfg.Instance.SSLDir()
	return dir, filepath.Join(dir, KeyFile), filepath.Join(dir, CertFile)
}

func (p *Provisioner) request() cryptoutils.CertRequest {
	if p.cfg.Request != nil {
		return *p.cfg.Request
	}
	return cryptoutils.DefaultCertRequest(p.cfg.Instance.MasterHost)
}

// Ensure makes sure verified material exists. It returns nil material when SSL is disabled.
// The returned error is fatal; recoverable anomalies are in the report.
func (p *Provisioner) Ensure(ctx context.Context) (*Material, *interfaces.Report, error) {
	report := interfaces.NewReport("tls", p.log)
	if !p.cfg.Instance.SSL {
		return nil, report, nil
	}

	material, err := p.ensure(ctx, report)
	if err != nil {
		report.Errorf("%v", err)
		p.log.Error("==== TLS SETUP FAILED ====", "err", err)
		return nil, report, err
	}

	p.log.Info("==== TLS SETUP COMPLETE ====",
		"fingerprint", material.Fingerprint,
		"expires", material.NotAfter.Format(time.DateOnly),
		"generated", material.Generated)
	return material, report, nil
}

func (p *Provisioner) ensure(ctx context.Context, report *interfaces.Report) (*Material, error) {
	dir, keyPath, certPath := p.paths()

	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return nil, fmt.Errorf("could not create ssl dir: %w", err)
	}
	if err := os.Chmod(dir, DirPerm); err != nil {
		return nil, fmt.Errorf("could not restrict ssl dir: %w", err)
	}

	generated := false
	if instanceutils.Exists(keyPath) && instanceutils.Exists(certPath) {
		p.log.Info("using existing tls material", "dir", dir)
		if err := os.Chmod(keyPath, KeyPerm); err != nil {
			return nil, err
		}
		if err := os.Chmod(certPath, CertPerm); err != nil {
			return nil, err
		}
	} else {
		if err := p.generate(ctx, report); err != nil {
			return nil, err
		}
		generated = true
	}

	if err := instanceutils.ChownIfRoot(p.cfg.Owner, dir, keyPath, certPath, filepath.Join(dir, ConfigFile)); err != nil {
		report.Warnf("could not hand tls material to %s: %v", p.cfg.Owner.Name, err)
	}

	if err := p.Verify(report); err != nil {
		return nil, err
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	if err := cryptoutils.VerifyKeyPair(keyPEM, certPEM); err != nil {
		return nil, fmt.Errorf("%s and %s do not form a pair: %w", KeyFile, CertFile, err)
	}

	cert, err := cryptoutils.TLSCert(certPEM).GetX509Cert()
	if err != nil {
		return nil, err
	}
	if time.Now().After(cert.NotAfter) {
		report.Warnf("certificate expired on %s", cert.NotAfter.Format(time.DateOnly))
	}

	return &Material{
		Dir:         dir,
		KeyPath:     keyPath,
		CertPath:    certPath,
		Fingerprint: cryptoutils.Fingerprint(cert),
		NotAfter:    cert.NotAfter,
		Generated:   generated,
	}, nil
}

func (p *Provisioner) generate(ctx context.Context, report *interfaces.Report) error {
	dir, keyPath, certPath := p.paths()
	req := p.request()

	// p4d -Gc refuses to overwrite; a half-present pair is discarded.
	for _, f := range []string{keyPath, certPath} {
		if instanceutils.Exists(f) {
			report.Warnf("removing unpaired %s", filepath.Base(f))
			if err := os.Remove(f); err != nil {
				return err
			}
		}
	}

	if err := instanceutils.WriteFileAtomic(filepath.Join(dir, ConfigFile), RenderConfig(req), CertPerm); err != nil {
		return fmt.Errorf("could not write %s: %w", ConfigFile, err)
	}

	wasRunning := false
	if p.cfg.Server != nil {
		state, err := p.cfg.Server.Status(ctx)
		if err != nil {
			p.log.Debug("could not determine server state before generation", "err", err)
		}
		if state == process.StateRunning {
			wasRunning = true
			p.log.Info("stopping server to generate tls material")
			if err := p.cfg.Server.Stop(ctx, p.cfg.StopTimeout); err != nil {
				return fmt.Errorf("could not stop server for tls generation: %w", err)
			}
		}
	}

	p.log.Info("generating tls material", "generator", p.cfg.Generator.Name(), "cn", req.CommonName)
	genErr := p.cfg.Generator.Generate(ctx, dir, req)

	if wasRunning {
		if err := p.cfg.Server.Start(ctx); err != nil {
			report.Errorf("could not restart server after tls generation: %v", err)
		}
	}

	if genErr != nil {
		return fmt.Errorf("%s generator failed: %w", p.cfg.Generator.Name(), genErr)
	}
	if !instanceutils.Exists(keyPath) || !instanceutils.Exists(certPath) {
		return fmt.Errorf("%w after %s generation in %s", ErrMissingMaterial, p.cfg.Generator.Name(), dir)
	}
	return nil
}

// Verify checks presence, ownership and permissions of the material.
// A key with group/other access or a foreign owner is fatal; a certificate
// with unexpected permissions is only a warning.
func (p *Provisioner) Verify(report *interfaces.Report) error {
	_, keyPath, certPath := p.paths()

	keyInfo, err := os.Stat(keyPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingMaterial, err)
	}
	certInfo, err := os.Stat(certPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingMaterial, err)
	}

	if mode := keyInfo.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return fmt.Errorf("%w: %s has mode %04o", ErrInsecureKey, keyPath, mode)
	}
	if owner := p.cfg.Owner; owner != nil {
		if st, ok := keyInfo.Sys().(*syscall.Stat_t); ok && int(st.Uid) != owner.UID {
			return fmt.Errorf("%w: %s is owned by uid %d, want %d", ErrInsecureKey, keyPath, st.Uid, owner.UID)
		}
	}
	if mode := certInfo.Mode().Perm(); mode != CertPerm {
		report.Warnf("%s has mode %04o, want %04o", certPath, mode, CertPerm)
	}
	return nil
}

// RenderConfig renders the request in the key=value form p4d -Gc reads from config.txt.
func RenderConfig(req cryptoutils.CertRequest) []byte {
	days := int(req.ValidFor.Hours() / 24)
	if days <= 0 {
		days = int(cryptoutils.DefaultValidity.Hours() / 24)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "C=%s\n", req.Country)
	fmt.Fprintf(&b, "ST=%s\n", req.State)
	fmt.Fprintf(&b, "L=%s\n", req.Locality)
	fmt.Fprintf(&b, "O=%s\n", req.Organization)
	fmt.Fprintf(&b, "OU=%s\n", req.Unit)
	fmt.Fprintf(&b, "CN=%s\n", req.CommonName)
	fmt.Fprintf(&b, "EX=%d\n", days)
	b.WriteString("UNITS=days\n")

	var sans []string
	for _, name := range req.DNSNames {
		sans = append(sans, "DNS:"+name)
	}
	for _, ip := range req.IPAddresses {
		sans = append(sans, "IP:"+ip.String())
	}
	if len(sans) > 0 {
		fmt.Fprintf(&b, "SUBJECT_ALT_NAMES=%s\n", strings.Join(sans, ","))
	}
	return []byte(b.String())
}
