package instanceutils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// Owner is a numeric uid/gid pair.
type Owner struct {
	Name string
	UID  int
	GID  int
}

// LookupOwner resolves an OS account name.
func LookupOwner(name string) (*Owner, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("could not look up user %s: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, err
	}
	return &Owner{Name: name, UID: uid, GID: gid}, nil
}

// HomeDir returns the home directory of an OS account, or "" if unknown.
func HomeDir(name string) string {
	u, err := user.Lookup(name)
	if err != nil {
		return ""
	}
	return u.HomeDir
}

// IsRoot reports whether the process may change file ownership.
func IsRoot() bool { return os.Geteuid() == 0 }

// ChownIfRoot hands paths to owner. Outside root, or with a nil owner, it does nothing.
// Missing paths are skipped.
func ChownIfRoot(owner *Owner, paths ...string) error {
	if owner == nil || !IsRoot() {
		return nil
	}
	var errs []error
	for _, p := range paths {
		if err := os.Lchown(p, owner.UID, owner.GID); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteFileAtomic writes data to a temporary file next to path, sets perm and renames it into place.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Exists reports whether path exists. Errors other than "not found" count as present.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
