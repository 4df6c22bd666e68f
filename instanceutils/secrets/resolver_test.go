package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

func (brokenStore) Name() string                         { return "broken" }
func (brokenStore) Load(context.Context) (string, error) { return "", errors.New("permission denied") }
func (brokenStore) Save(context.Context, string) error   { return errors.New("permission denied") }

func TestResolver(t *testing.T) {
	ctx := context.Background()
	log := common.DiscardLogger()

	t.Run("generates and stores", func(t *testing.T) {
		store := &FileStore{Path: filepath.Join(t.TempDir(), "config", ".p4passwd")}
		r := &Resolver{Store: store, Log: log}

		s, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.True(t, s.Generated())
		assert.Len(t, s.Value, DefaultLength)

		again, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, SourceStore, again.Source)
		assert.Equal(t, s.Value, again.Value)
	})

	t.Run("explicit wins and is persisted", func(t *testing.T) {
		store := &FileStore{Path: filepath.Join(t.TempDir(), ".p4passwd")}
		require.NoError(t, store.Save(ctx, "old"))

		s, err := (&Resolver{Explicit: "new", Store: store, Log: log}).Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, SourceExplicit, s.Source)
		assert.Equal(t, "new", s.Value)

		stored, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "new", stored)
	})

	t.Run("unreadable store is not overwritten", func(t *testing.T) {
		_, err := (&Resolver{Store: brokenStore{}, Log: log}).Resolve(ctx)
		require.Error(t, err)
	})

	t.Run("no store", func(t *testing.T) {
		s, err := (&Resolver{Length: 8, Log: log}).Resolve(ctx)
		require.NoError(t, err)
		assert.Len(t, s.Value, 8)
		assert.NotContains(t, s.String(), s.Value)
	})
}

func TestLookupNeverGenerates(t *testing.T) {
	ctx := context.Background()
	store := &FileStore{Path: filepath.Join(t.TempDir(), ".p4passwd")}
	r := &Resolver{Store: store, Log: common.DiscardLogger()}

	_, err := r.Lookup(ctx)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, store.Save(ctx, "kept"))
	s, err := r.Lookup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept", s.Value)
}

func TestGenerate(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		s, err := Generate(0)
		require.NoError(t, err)
		assert.Len(t, s, DefaultLength)
		for _, c := range s {
			assert.True(t, strings.ContainsRune(alphabet, c), "unexpected %q", c)
		}
		seen[s] = true
	}
	assert.Len(t, seen, 20)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".p4passwd.p4_1.admin")
	store := &FileStore{Path: path}

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, store.Save(ctx, "hunter2"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	v, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}

func TestNewStore(t *testing.T) {
	inst := interfaces.DefaultInstance()
	log := common.DiscardLogger()

	s, err := NewStore("", inst, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "file://"+inst.PasswordFile(), s.Name())

	s, err = NewStore("file:///tmp/pw", inst, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/pw", s.Name())

	s, err = NewStore("vault://vault.internal:8200/secret/helix/p4_1", inst, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "vault://vault.internal:8200/secret/helix/p4_1", s.Name())

	_, err = NewStore("vault://vault.internal:8200/secret", inst, nil, log)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = NewStore("ldap://x", inst, nil, log)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
