package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/helix-container/interfaces"
)

// MultiStorageBackend implements interfaces.StorageBackend using multiple backends with fallback
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// StoreOutcome is the result of storing one artifact on one backend.
type StoreOutcome struct {
	Backend  string
	Location string
	Err      error
	Skipped  bool
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch opens the content from the first available backend that has it.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) (io.ReadCloser, error) {
	start := time.Now()
	var errs []error
	contentIDStr := fmt.Sprintf("%x", id[:8])

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr))
			continue
		}

		rc, err := backend.Fetch(ctx, id, kind)
		if err == nil {
			m.log.Info("fetched content",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr),
				slog.Duration("duration", time.Since(start)))
			return rc, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("content_id", contentIDStr),
			"err", err)
	}

	if len(errs) == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", contentIDStr, errors.Join(errs...))
}

// Store saves content to all available backends. It succeeds if at least one backend stored it.
func (m *MultiStorageBackend) Store(ctx context.Context, content io.ReadSeeker, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	id, _, err := m.StoreEach(ctx, content, kind)
	return id, err
}

// StoreEach is Store with the per-backend outcome.
func (m *MultiStorageBackend) StoreEach(ctx context.Context, content io.ReadSeeker, kind interfaces.ArtifactKind) (interfaces.ContentID, []StoreOutcome, error) {
	start := time.Now()
	var result interfaces.ContentID
	var success bool
	var errs []error
	outcomes := make([]StoreOutcome, 0, len(m.backends))

	for _, backend := range m.backends {
		outcome := StoreOutcome{Backend: backend.Name(), Location: backend.LocationURI()}
		if !backend.Available(ctx) {
			m.log.Warn("backend unavailable", slog.String("backend_name", backend.Name()))
			outcome.Skipped = true
			outcomes = append(outcomes, outcome)
			continue
		}

		// Every backend reads the stream from the start.
		if _, err := content.Seek(0, io.SeekStart); err != nil {
			return result, outcomes, fmt.Errorf("failed to rewind content: %w", err)
		}

		id, err := backend.Store(ctx, content, kind)
		if err != nil {
			outcome.Err = err
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("failed to store to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			outcomes = append(outcomes, outcome)
			continue
		}
		outcomes = append(outcomes, outcome)

		if !success {
			result = id
			success = true
			m.log.Info("stored content",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", id.String()),
				slog.Duration("duration", time.Since(start)))
		} else if !result.Equal(id) {
			m.log.Warn("inconsistent hashes from backends",
				slog.String("backend_name", backend.Name()),
				slog.String("expected_id", result.String()),
				slog.String("actual_id", id.String()))
		}
	}

	if !success {
		m.log.Error("all backends failed to store data",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		if len(errs) == 0 {
			return result, outcomes, interfaces.ErrBackendUnavailable
		}
		return result, outcomes, fmt.Errorf("all backends failed to store data: %w", errors.Join(errs...))
	}

	return result, outcomes, nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI combines the location URIs of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
