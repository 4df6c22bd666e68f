package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var monthPattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}$`)

// Snapshot creates dst as a point-in-time copy of src. Hard links are tried first;
// if any link fails (e.g. across filesystems) the partial tree is discarded and a
// full copy is made instead. It reports whether the snapshot is hard-linked.
func Snapshot(ctx context.Context, src, dst string) (bool, error) {
	if err := linkTree(ctx, src, dst); err == nil {
		return true, nil
	}

	if err := os.RemoveAll(dst); err != nil {
		return false, fmt.Errorf("failed to discard partial snapshot: %w", err)
	}
	if _, err := Mirror(ctx, src, dst, MirrorOptions{}); err != nil {
		os.RemoveAll(dst)
		return false, err
	}
	return false, nil
}

func linkTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
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

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return os.Link(path, target)
		}
		return nil
	})
}

// ListSnapshots returns the YYYY-MM snapshot names under dir, newest first.
func ListSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && monthPattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Retain deletes all but the keep newest snapshots under dir and returns the deleted names.
func Retain(dir string, keep int) ([]string, error) {
	names, err := ListSnapshots(dir)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(names) <= keep {
		return nil, nil
	}

	var removed []string
	for _, name := range names[keep:] {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("failed to remove snapshot %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// RepointSymlink atomically makes link point at target.
func RepointSymlink(target, link string) error {
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
