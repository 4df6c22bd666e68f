package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/helix-container/interfaces"
)

// vaultKey is the field of the KV entry holding the password.
const vaultKey = "password"

// VaultStore keeps the secret in a Vault KV v2 mount. The token is taken from VAULT_TOKEN.
type VaultStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
	uri       string
}

// NewVaultStore creates a store for vault://host[:port]/<mount>/<path>[?tls=false].
func NewVaultStore(uri string, log *slog.Logger) (*VaultStore, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "vault" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidLocationURI, uri)
	}

	mountPath, dataPath, ok := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if !ok || mountPath == "" || dataPath == "" {
		return nil, fmt.Errorf("%w: %q must be vault://host/<mount>/<path>", interfaces.ErrInvalidLocationURI, uri)
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	address := scheme + "://" + u.Host

	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	return &VaultStore{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
		uri:       fmt.Sprintf("vault://%s/%s/%s", u.Host, mountPath, dataPath),
	}, nil
}

func (s *VaultStore) Name() string { return s.uri }

func (s *VaultStore) path() string {
	return fmt.Sprintf("%s/data/%s", s.mountPath, s.dataPath)
}

func (s *VaultStore) Load(ctx context.Context) (string, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.path())
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return "", interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// deleted versions come back with null data
		return "", interfaces.ErrContentNotFound
	}
	value, ok := data[vaultKey].(string)
	if !ok || value == "" {
		return "", interfaces.ErrContentNotFound
	}

	s.log.Debug("loaded secret from Vault", slog.String("path", s.path()))
	return value, nil
}

func (s *VaultStore) Save(ctx context.Context, secret string) error {
	payload := map[string]interface{}{
		"data": map[string]interface{}{vaultKey: secret},
	}
	if _, err := s.client.Logical().WriteWithContext(ctx, s.path(), payload); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	s.log.Info("stored secret in Vault", slog.String("path", s.path()))
	return nil
}
