// Package localfs provides the go-billy filesystems tarsync works on and
// the few helpers shared by the transport, fetch and archive packages.
//
// All paths handed to these filesystems are absolute or relative to the
// process working directory, exactly as with the os package.
package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// nativeOS is a billy.Filesystem that acts like the native filesystem.
type nativeOS struct {
	osfs.ChrootOS
}

// Chroot returns a new filesystem rooted at the provided path.
//
//nolint:ireturn // billy.Filesystem is an interface; signature is dictated by upstream.
func (n *nativeOS) Chroot(path string) (billy.Filesystem, error) {
	return osfs.New(path), nil
}

// Root returns the root path for this filesystem.
func (n *nativeOS) Root() string {
	return "/"
}

// OS returns a filesystem backed by the operating system.
//
//nolint:ireturn // callers work against billy.Filesystem.
func OS() billy.Filesystem {
	return &nativeOS{}
}

// Memory returns an empty in-memory filesystem.
//
//nolint:ireturn // callers work against billy.Filesystem.
func Memory() billy.Filesystem {
	return memfs.New()
}

// Exists reports whether path exists.
func Exists(fsys billy.Filesystem, path string) (bool, error) {
	_, err := fsys.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("localfs: stat %q: %w", path, err)
	}
}

// FileSize returns the size of the regular file at path.
func FileSize(fsys billy.Filesystem, path string) (int64, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("localfs: stat %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("localfs: %q is not a regular file", path)
	}
	return info.Size(), nil
}

// TempDir creates a new directory under dir. An empty dir selects the
// filesystem's temporary directory.
func TempDir(fsys billy.Filesystem, dir, prefix string) (string, error) {
	name, err := util.TempDir(fsys, dir, prefix)
	if err != nil {
		return "", fmt.Errorf("localfs: tempdir dir=%q prefix=%q: %w", dir, prefix, err)
	}
	return name, nil
}

// RemoveAll removes path and any children. A missing path is not an error.
func RemoveAll(fsys billy.Filesystem, path string) error {
	if path == "" {
		return nil
	}
	if err := util.RemoveAll(fsys, path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("localfs: removeall %q: %w", path, err)
	}
	return nil
}

// WriteFile writes data to filename, creating or truncating it.
func WriteFile(fsys billy.Filesystem, filename string, data []byte, perm os.FileMode) error {
	if err := util.WriteFile(fsys, filename, data, perm); err != nil {
		return fmt.Errorf("localfs: writefile %q: %w", filename, err)
	}
	return nil
}

// ReadFile returns the contents of filename.
func ReadFile(fsys billy.Filesystem, filename string) ([]byte, error) {
	data, err := util.ReadFile(fsys, filename)
	if err != nil {
		return nil, fmt.Errorf("localfs: readfile %q: %w", filename, err)
	}
	return data, nil
}

// Walk walks the tree rooted at root in lexical order.
func Walk(fsys billy.Filesystem, root string, walkFn filepath.WalkFunc) error {
	if err := util.Walk(fsys, root, walkFn); err != nil {
		return fmt.Errorf("localfs: walk %q: %w", root, err)
	}
	return nil
}
