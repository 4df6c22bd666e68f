package secrets

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
)

// NewStore builds the store named by spec: "" or "file" for the SDP password file,
// "file:///path" for another file, "vault://..." for Vault.
func NewStore(spec string, inst interfaces.Instance, owner *instanceutils.Owner, log *slog.Logger) (interfaces.SecretStore, error) {
	switch {
	case spec == "" || spec == "file":
		return &FileStore{Path: inst.PasswordFile(), Owner: owner}, nil
	case strings.HasPrefix(spec, "file://"):
		return &FileStore{Path: strings.TrimPrefix(spec, "file://"), Owner: owner}, nil
	case strings.HasPrefix(spec, "vault://"):
		return NewVaultStore(spec, log)
	default:
		return nil, fmt.Errorf("%w: unsupported secret store %q", interfaces.ErrInvalidLocationURI, spec)
	}
}
