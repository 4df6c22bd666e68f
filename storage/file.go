package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/helix-container/interfaces"
)

// FileBackend stores artifacts under <baseDir>/<kind>/<sha256>, typically on a second mount.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates the base directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: "file://" + baseDir,
	}, nil
}

// Fetch opens the stored artifact.
func (b *FileBackend) Fetch(_ context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) (io.ReadCloser, error) {
	f, err := os.Open(b.path(id, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// Store copies content into place through a temporary file. Content already present is not rewritten.
func (b *FileBackend) Store(ctx context.Context, content io.ReadSeeker, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	id, size, err := interfaces.ComputeIDFromReader(content)
	if err != nil {
		return id, fmt.Errorf("failed to hash content: %w", err)
	}

	path := b.path(id, kind)
	if _, err := os.Stat(path); err == nil {
		b.log.Debug("artifact already stored", slog.String("path", path))
		return id, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return id, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return id, err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: content}); err != nil {
		tmp.Close()
		return id, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return id, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return id, err
	}

	b.log.Debug("stored artifact in file backend",
		slog.String("path", path),
		slog.Int64("size", size))
	return id, nil
}

// Available checks that the base directory is still there.
func (b *FileBackend) Available(_ context.Context) bool {
	if _, err := os.Stat(b.baseDir); err != nil {
		b.log.Debug("file backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) path(id interfaces.ContentID, kind interfaces.ArtifactKind) string {
	return filepath.Join(b.baseDir, kind.String(), id.String())
}

// contextReader stops a long copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
