package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirror(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(src, "depot", "a.txt,v"), "aaa")
	touch(t, filepath.Join(src, "depot", "sub", "b.txt,v"), "bb")
	require.NoError(t, os.Chmod(filepath.Join(src, "depot", "a.txt,v"), 0o640))
	old := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(src, "depot", "a.txt,v"), old, old))

	stats, err := Mirror(context.Background(), src, dst, MirrorOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Copied)
	assert.Equal(t, int64(5), stats.Bytes)

	info, err := os.Stat(filepath.Join(dst, "depot", "a.txt,v"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(old))

	stats, err = Mirror(context.Background(), src, dst, MirrorOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Copied)
	assert.Equal(t, 2, stats.Skipped)
}

func TestMirror_DeleteAndOrphans(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(src, "keep"), "k")
	touch(t, filepath.Join(dst, "gone"), "g")
	touch(t, filepath.Join(dst, "olddir", "x"), "x")

	stats, err := Mirror(context.Background(), src, dst, MirrorOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Orphaned)
	assert.FileExists(t, filepath.Join(dst, "gone"))

	stats, err = Mirror(context.Background(), src, dst, MirrorOptions{Delete: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Deleted)
	assert.NoFileExists(t, filepath.Join(dst, "gone"))
	assert.NoDirExists(t, filepath.Join(dst, "olddir"))
	assert.FileExists(t, filepath.Join(dst, "keep"))
}

func TestMirror_IncludeProtectsExcluded(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(src, "p4_1.jnl.1"), "j1")
	touch(t, filepath.Join(src, "p4_1.ckp.1.gz"), "c1")
	touch(t, filepath.Join(dst, "journal"), "active")
	touch(t, filepath.Join(dst, "p4_1.jnl.0"), "rotated away")

	opts := MirrorOptions{
		Delete: true,
		Include: func(rel string, _ fs.FileInfo) bool {
			return strings.HasPrefix(rel, "p4_1.jnl.")
		},
	}
	stats, err := Mirror(context.Background(), src, dst, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, 1, stats.Deleted)

	assert.FileExists(t, filepath.Join(dst, "p4_1.jnl.1"))
	assert.FileExists(t, filepath.Join(dst, "journal"))
	assert.NoFileExists(t, filepath.Join(dst, "p4_1.jnl.0"))
	assert.NoFileExists(t, filepath.Join(dst, "p4_1.ckp.1.gz"))
}

func TestMirror_UpdateKeepsHardlinkedCopy(t *testing.T) {
	src, dst, snap := t.TempDir(), t.TempDir(), filepath.Join(t.TempDir(), "snap")
	touch(t, filepath.Join(src, "f"), "v1")
	_, err := Mirror(context.Background(), src, dst, MirrorOptions{})
	require.NoError(t, err)

	hardlinked, err := Snapshot(context.Background(), dst, snap)
	require.NoError(t, err)
	assert.True(t, hardlinked)

	touch(t, filepath.Join(src, "f"), "version two")
	_, err = Mirror(context.Background(), src, dst, MirrorOptions{})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(snap, "f"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	got, err = os.ReadFile(filepath.Join(dst, "f"))
	require.NoError(t, err)
	assert.Equal(t, "version two", string(got))
}

func TestMirror_Symlink(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	require.NoError(t, os.Symlink("target", filepath.Join(src, "link")))

	stats, err := Mirror(context.Background(), src, dst, MirrorOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)

	link, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "target", link)
}

func TestTreeSize(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a"), "123")
	touch(t, filepath.Join(dir, "b", "c"), "45")

	size, count, err := TreeSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, 2, count)

	size, count, err = TreeSize(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, count)
}
