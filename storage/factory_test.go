package storage

import (
	"path/filepath"
	"testing"

	"github.com/ruteri/helix-container/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageBackendFor(t *testing.T) {
	dir := t.TempDir()
	factory := NewStorageBackendFactory(discardLogger())

	tests := []struct {
		name     string
		uri      string
		wantName string
		wantURI  string
		wantErr  error
	}{
		{
			name:     "file",
			uri:      "file://" + filepath.Join(dir, "offsite"),
			wantName: "file-offsite",
			wantURI:  "file://" + filepath.Join(dir, "offsite"),
		},
		{
			name:     "s3 with credentials redacted",
			uri:      "s3://AKID:secret@backups/helix/1?region=eu-west-1",
			wantName: "s3-backups",
			wantURI:  "s3://AKID:***@backups/helix/1?region=eu-west-1",
		},
		{
			name:     "s3 default chain with endpoint",
			uri:      "s3://backups?endpoint=http://minio:9000",
			wantName: "s3-backups",
			wantURI:  "s3://backups/?region=us-east-1&endpoint=http://minio:9000",
		},
		{
			name:     "ipfs",
			uri:      "ipfs://127.0.0.1/helix?timeout=30s",
			wantName: "ipfs-127.0.0.1-5001",
			wantURI:  "ipfs://127.0.0.1:5001/helix?timeout=30s",
		},
		{
			name:    "unsupported scheme",
			uri:     "github://owner/repo",
			wantErr: interfaces.ErrInvalidLocationURI,
		},
		{
			name:    "bad ipfs timeout",
			uri:     "ipfs://127.0.0.1:5001/?timeout=soon",
			wantErr: interfaces.ErrInvalidLocationURI,
		},
		{
			name:    "s3 without bucket",
			uri:     "s3:///prefix",
			wantErr: interfaces.ErrInvalidLocationURI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation(tt.uri))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, backend.Name())
			assert.Equal(t, tt.wantURI, backend.LocationURI())
		})
	}
}

func TestCreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		"ftp://nowhere",
		interfaces.StorageBackendLocation("file://" + t.TempDir()),
	})
	require.NoError(t, err)
	assert.Len(t, multi.backends, 1)

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"ftp://nowhere"})
	assert.Error(t, err)
}
