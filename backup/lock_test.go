package backup

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pidTable map[int]bool

func (t pidTable) Alive(pid int) bool               { return t[pid] }
func (t pidTable) Signal(int, syscall.Signal) error { return nil }

func TestAcquireLock(t *testing.T) {
	path := LockPath(t.TempDir(), "1")
	assert.Equal(t, ".backup_1.lock", filepath.Base(path))

	lock, err := AcquireLock(path, pidTable{})
	require.NoError(t, err)

	pid, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(itoa(os.Getpid())+"\n"), pid)

	require.NoError(t, lock.Release())
	assert.NoFileExists(t, path)
	require.NoError(t, lock.Release())
}

func TestAcquireLock_LiveOwner(t *testing.T) {
	path := LockPath(t.TempDir(), "1")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o600))

	_, err := AcquireLock(path, pidTable{4242: true})
	assert.ErrorIs(t, err, ErrLockHeld)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(data), "a held lock is left untouched")
}

func TestAcquireLock_StaleOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "dead pid", content: "4242\n"},
		{name: "garbage", content: "not a pid"},
		{name: "empty", content: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := LockPath(t.TempDir(), "1")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			lock, err := AcquireLock(path, pidTable{})
			require.NoError(t, err)
			defer lock.Release()

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, itoa(os.Getpid())+"\n", string(data))
		})
	}
}

func TestAcquireLock_FlockHeld(t *testing.T) {
	path := LockPath(t.TempDir(), "1")
	first, err := AcquireLock(path, pidTable{})
	require.NoError(t, err)
	defer first.Release()

	// The recorded pid looks dead, but the flock is still held.
	_, err = AcquireLock(path, pidTable{})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.FileExists(t, path)
}
