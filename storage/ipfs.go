package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/helix-container/interfaces"
)

// IPFSBackend stores artifacts in the MFS of an IPFS node, named by their SHA-256,
// so they can be fetched back by content ID and are pinned by the node.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend connects to the node API at host:port; root is the MFS directory used.
func NewIPFSBackend(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	root = "/" + strings.Trim(root, "/")

	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, root, timeout),
	}, nil
}

// Fetch reads an artifact from MFS.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) (io.ReadCloser, error) {
	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	p := b.path(id, kind)
	if _, err := b.shell.FilesStat(ctx, p); err != nil {
		if isMissing(err) {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to stat %s in IPFS: %w", p, err)
	}

	reader, err := b.shell.FilesRead(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	return reader, nil
}

// Store writes the artifact into MFS, creating parent directories.
func (b *IPFSBackend) Store(ctx context.Context, content io.ReadSeeker, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	id, size, err := interfaces.ComputeIDFromReader(content)
	if err != nil {
		return id, fmt.Errorf("failed to hash content: %w", err)
	}

	if !b.shell.IsUp() {
		return id, interfaces.ErrBackendUnavailable
	}

	p := b.path(id, kind)
	if _, err := b.shell.FilesStat(ctx, p); err == nil {
		b.log.Debug("artifact already in IPFS", slog.String("path", p))
		return id, nil
	}

	err = b.shell.FilesWrite(ctx, p, content,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return id, fmt.Errorf("failed to add data to IPFS: %w", err)
	}

	stat, err := b.shell.FilesStat(ctx, p)
	if err != nil {
		return id, fmt.Errorf("failed to stat stored artifact: %w", err)
	}

	b.log.Debug("stored artifact in IPFS",
		slog.String("path", p),
		slog.String("ipfsCID", stat.Hash),
		slog.Int64("size", size))
	return id, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(_ context.Context) bool {
	return b.shell.IsUp()
}

func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) path(id interfaces.ContentID, kind interfaces.ArtifactKind) string {
	return path.Join(b.root, kind.String(), id.String())
}

func isMissing(err error) bool {
	return strings.Contains(err.Error(), "does not exist")
}
