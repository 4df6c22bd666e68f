package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ruteri/helix-container/process"
	"golang.org/x/sys/unix"
)

// ErrLockHeld is returned when another live backup owns the lock file.
var ErrLockHeld = errors.New("backup lock held by a live process")

// Lock is an exclusive backup lock file containing the owner PID.
type Lock struct {
	path string
	file *os.File
}

// LockPath is the lock file of instance id under root.
func LockPath(root, id string) string {
	return filepath.Join(root, ".backup_"+id+".lock")
}

// AcquireLock creates the lock file at path. A lock whose recorded PID is no longer
// alive according to table is stale and replaced.
func AcquireLock(path string, table process.ProcessTable) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			if flocked(path) {
				return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
			}
			pid, perr := process.ReadPIDFile(path)
			if perr == nil && table.Alive(pid) {
				return nil, fmt.Errorf("%w: pid %d (%s)", ErrLockHeld, pid, path)
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			os.Remove(path)
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
			}
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}

		if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("failed to write lock file: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("failed to sync lock file: %w", err)
		}
		return &Lock{path: path, file: f}, nil
	}

	return nil, fmt.Errorf("%w: lock file reappeared at %s", ErrLockHeld, path)
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// flocked reports whether another open file description holds a flock on path.
func flocked(path string) bool {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return false
	}
	return errors.Is(err, unix.EWOULDBLOCK)
}
