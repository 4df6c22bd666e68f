package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// MirrorOptions controls a one-way sync.
type MirrorOptions struct {
	// Delete removes destination entries that are absent from the source.
	Delete bool
	// Include limits the files considered. rel is slash separated, relative to the mirror root.
	// Destination files it rejects are neither deleted nor counted as orphans.
	Include func(rel string, info fs.FileInfo) bool
}

// MirrorStats summarises one Mirror call.
type MirrorStats struct {
	Copied   int
	Skipped  int
	Deleted  int
	Orphaned int
	Bytes    int64
}

func (s MirrorStats) add(o MirrorStats) MirrorStats {
	return MirrorStats{
		Copied:   s.Copied + o.Copied,
		Skipped:  s.Skipped + o.Skipped,
		Deleted:  s.Deleted + o.Deleted,
		Orphaned: s.Orphaned + o.Orphaned,
		Bytes:    s.Bytes + o.Bytes,
	}
}

// Mirror copies every file of src whose size or modification time differs from its
// counterpart in dst. Modification times and permission bits are preserved, symlinks
// are recreated as symlinks.
//
// Files are replaced through a temporary file and rename, so hard links taken from dst
// earlier (monthly snapshots) keep their old content.
func Mirror(ctx context.Context, src, dst string, opts MirrorOptions) (MirrorStats, error) {
	var stats MirrorStats

	if err := os.MkdirAll(dst, 0o750); err != nil {
		return stats, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case opts.Include != nil && !opts.Include(filepath.ToSlash(rel), info):
			return nil
		case info.Mode()&fs.ModeSymlink != 0:
			copied, err := copySymlink(path, target)
			if err != nil {
				return err
			}
			if copied {
				stats.Copied++
			} else {
				stats.Skipped++
			}
			return nil
		case !info.Mode().IsRegular():
			return nil
		}

		if upToDate(target, info) {
			stats.Skipped++
			return nil
		}
		if err := copyFile(path, target, info); err != nil {
			return err
		}
		stats.Copied++
		stats.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to mirror %s: %w", src, err)
	}

	err = filepath.WalkDir(dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dst, path)
		if err != nil || rel == "." {
			return err
		}
		if _, err := os.Lstat(filepath.Join(src, rel)); !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if opts.Include != nil && !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !opts.Include(filepath.ToSlash(rel), info) {
				return nil
			}
		}

		if !opts.Delete {
			if !d.IsDir() {
				stats.Orphaned++
			}
			return nil
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		stats.Deleted++
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to prune %s: %w", dst, err)
	}

	return stats, nil
}

func upToDate(target string, info fs.FileInfo) bool {
	existing, err := os.Lstat(target)
	if err != nil || !existing.Mode().IsRegular() {
		return false
	}
	return existing.Size() == info.Size() && existing.ModTime().Equal(info.ModTime())
}

// copyFile copies src to dst through a temporary file, keeping mode and mtime.
func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// copySymlink recreates the link at dst unless it already points to the same target.
func copySymlink(src, dst string) (bool, error) {
	link, err := os.Readlink(src)
	if err != nil {
		return false, err
	}
	if existing, err := os.Readlink(dst); err == nil && existing == link {
		return false, nil
	}
	if err := os.RemoveAll(dst); err != nil {
		return false, err
	}
	return true, os.Symlink(link, dst)
}

// CopyFile copies a single file, creating the parent directory of dst.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return copyFile(src, dst, info)
}

// TreeSize returns the total size and count of regular files under root.
// A missing root is empty.
func TreeSize(root string) (int64, int, error) {
	var size int64
	var count int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		count++
		return nil
	})
	return size, count, err
}
