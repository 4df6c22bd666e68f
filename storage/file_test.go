package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/helix-container/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_StoreFetch(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(filepath.Join(dir, "offsite"), discardLogger())
	require.NoError(t, err)
	require.True(t, backend.Available(context.Background()))

	data := []byte("checkpoint contents")
	id, err := backend.Store(context.Background(), bytes.NewReader(data), interfaces.CheckpointArtifact)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	stored := filepath.Join(dir, "offsite", "checkpoints", id.String())
	assert.FileExists(t, stored)

	rc, err := backend.Fetch(context.Background(), id, interfaces.CheckpointArtifact)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Same content under another kind is a different object.
	_, err = backend.Fetch(context.Background(), id, interfaces.ManifestArtifact)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackend_StoreIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)

	data := []byte("manifest")
	id1, err := backend.Store(context.Background(), bytes.NewReader(data), interfaces.ManifestArtifact)
	require.NoError(t, err)
	id2, err := backend.Store(context.Background(), bytes.NewReader(data), interfaces.ManifestArtifact)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	entries, err := os.ReadDir(filepath.Join(dir, "manifests"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFileBackend_StoreCancelled(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = backend.Store(ctx, bytes.NewReader([]byte("x")), interfaces.CheckpointArtifact)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileBackend_Unavailable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mount")
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))
	assert.False(t, backend.Available(context.Background()))
}
