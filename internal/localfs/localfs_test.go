package localfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filesystems(t *testing.T) map[string]struct {
	fs   billy.Filesystem
	root string
} {
	t.Helper()
	return map[string]struct {
		fs   billy.Filesystem
		root string
	}{
		"os":     {fs: OS(), root: t.TempDir()},
		"memory": {fs: Memory(), root: "/work"},
	}
}

func TestExistsAndFileSize(t *testing.T) {
	for name, tc := range filesystems(t) {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(tc.root, "file.txt")

			ok, err := Exists(tc.fs, p)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, WriteFile(tc.fs, p, []byte("hello"), 0o644))

			ok, err = Exists(tc.fs, p)
			require.NoError(t, err)
			assert.True(t, ok)

			size, err := FileSize(tc.fs, p)
			require.NoError(t, err)
			assert.Equal(t, int64(5), size)

			data, err := ReadFile(tc.fs, p)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))
		})
	}
}

func TestFileSize_Directory(t *testing.T) {
	for name, tc := range filesystems(t) {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(tc.root, "dir")
			require.NoError(t, tc.fs.MkdirAll(dir, 0o755))

			_, err := FileSize(tc.fs, dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not a regular file")
		})
	}
}

func TestTempDirAndRemoveAll(t *testing.T) {
	for name, tc := range filesystems(t) {
		t.Run(name, func(t *testing.T) {
			dir, err := TempDir(tc.fs, tc.root, "extract-")
			require.NoError(t, err)
			assert.Contains(t, filepath.Base(dir), "extract-")

			require.NoError(t, tc.fs.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
			require.NoError(t, WriteFile(tc.fs, filepath.Join(dir, "a", "b", "c.txt"), []byte("x"), 0o644))

			require.NoError(t, RemoveAll(tc.fs, dir))
			ok, err := Exists(tc.fs, dir)
			require.NoError(t, err)
			assert.False(t, ok)

			// Removing again is fine.
			require.NoError(t, RemoveAll(tc.fs, dir))
			require.NoError(t, RemoveAll(tc.fs, ""))
		})
	}
}

func TestWalk(t *testing.T) {
	fsys := Memory()
	require.NoError(t, WriteFile(fsys, "/root/b.txt", []byte("b"), 0o644))
	require.NoError(t, WriteFile(fsys, "/root/a/z.txt", []byte("z"), 0o644))

	var seen []string
	err := Walk(fsys, "/root", func(path string, _ os.FileInfo, err error) error {
		require.NoError(t, err)
		seen = append(seen, path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/root", "/root/a", "/root/a/z.txt", "/root/b.txt"}, seen)
}

func TestOS_Root(t *testing.T) {
	assert.Equal(t, "/", OS().Root())

	sub, err := OS().Chroot(t.TempDir())
	require.NoError(t, err)
	assert.NotNil(t, sub)
}
