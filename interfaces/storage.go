package interfaces

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash uniquely identifying stored content.
type ContentID [32]byte

// NewContentIDFromHex parses a hex encoded content ID, with or without 0x prefix.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var hash [32]byte
	copy(hash[:], hashBytes)
	return ContentID(hash), nil
}

// ComputeID calculates the content ID of data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// ComputeIDFromReader hashes everything in r and rewinds it to the start.
func ComputeIDFromReader(r io.ReadSeeker) (ContentID, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return ContentID{}, 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return ContentID{}, 0, err
	}

	var id ContentID
	copy(id[:], h.Sum(nil))
	return id, n, nil
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Equal compares two content IDs.
func (id ContentID) Equal(other ContentID) bool {
	return bytes.Equal(id[:], other[:])
}

// ArtifactKind selects the namespace an artifact is stored under.
type ArtifactKind int

const (
	// CheckpointArtifact is a server checkpoint file.
	CheckpointArtifact ArtifactKind = iota
	// ManifestArtifact is a backup manifest document.
	ManifestArtifact
)

// String returns the namespace name.
func (k ArtifactKind) String() string {
	switch k {
	case CheckpointArtifact:
		return "checkpoints"
	case ManifestArtifact:
		return "manifests"
	default:
		return "unknown"
	}
}

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend provides content-addressed storage for offsite backup copies.
type StorageBackend interface {
	// Fetch opens the content stored under id.
	Fetch(ctx context.Context, id ContentID, kind ArtifactKind) (io.ReadCloser, error)

	// Store uploads content and returns its content ID.
	Store(ctx context.Context, content io.ReadSeeker, kind ArtifactKind) (ContentID, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend, with credentials redacted.
	LocationURI() string
}

// StorageBackendLocation is a raw backend URI such as "s3://bucket/prefix?region=eu-west-1".
type StorageBackendLocation string

// SecretStore keeps the administrator secret between container restarts.
type SecretStore interface {
	// Load returns ErrContentNotFound when nothing has been stored yet.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, secret string) error
	Name() string
}
