package tlsprov

import (
	"context"
	"path/filepath"

	"github.com/ruteri/helix-container/cryptoutils"
	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/p4"
)

// Generator writes privatekey.txt and certificate.txt into an ssl directory.
type Generator interface {
	Generate(ctx context.Context, dir string, req cryptoutils.CertRequest) error
	Name() string
}

// P4dGenerator delegates to "p4d -Gc", which reads config.txt from P4SSLDIR.
type P4dGenerator struct {
	Client *p4.Client
}

func (g P4dGenerator) Name() string { return "p4d" }

func (g P4dGenerator) Generate(ctx context.Context, _ string, _ cryptoutils.CertRequest) error {
	return g.Client.GenerateCertificates(ctx)
}

// BuiltinGenerator creates an ECDSA P-256 pair without calling out to p4d.
type BuiltinGenerator struct{}

func (BuiltinGenerator) Name() string { return "builtin" }

func (BuiltinGenerator) Generate(_ context.Context, dir string, req cryptoutils.CertRequest) error {
	keyPEM, certPEM, err := cryptoutils.GenerateSelfSigned(req)
	if err != nil {
		return err
	}
	if err := instanceutils.WriteFileAtomic(filepath.Join(dir, KeyFile), keyPEM, KeyPerm); err != nil {
		return err
	}
	return instanceutils.WriteFileAtomic(filepath.Join(dir, CertFile), certPEM, CertPerm)
}
