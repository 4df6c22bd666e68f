package secrets

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
)

// FileStore keeps the secret in a 0600 file, the SDP admin password file by default.
type FileStore struct {
	Path  string
	Owner *instanceutils.Owner
}

func (s *FileStore) Name() string { return "file://" + s.Path }

func (s *FileStore) Load(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", interfaces.ErrContentNotFound
	}
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", interfaces.ErrContentNotFound
	}
	return secret, nil
}

func (s *FileStore) Save(_ context.Context, secret string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	if err := instanceutils.WriteFileAtomic(s.Path, []byte(secret+"\n"), 0o600); err != nil {
		return err
	}
	return instanceutils.ChownIfRoot(s.Owner, s.Path)
}
