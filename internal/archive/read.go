package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/gzip"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/internal/pool"
)

var gzipMagic = []byte{0x1f, 0x8b}

// tarReader is a tar stream over an opened archive file.
type tarReader struct {
	*tar.Reader
	closers []io.Closer
}

func (r *tarReader) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openTar opens the archive at name, unwrapping gzip when present.
func openTar(fsys billy.Filesystem, name string) (*tarReader, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, fmt.Errorf("read archive: %w", err)
	}

	r := &tarReader{closers: []io.Closer{f}}
	if len(magic) == len(gzipMagic) && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		gz, err := gzip.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("read gzip header: %w", err)
		}
		r.closers = append(r.closers, gz)
		r.Reader = tar.NewReader(gz)
		return r, nil
	}
	r.Reader = tar.NewReader(br)
	return r, nil
}

// List returns the members of the archive at name in stream order.
func (e *Engine) List(ctx context.Context, name string) ([]Member, error) {
	tr, err := openTar(e.fs, name)
	if err != nil {
		return nil, tserrors.Merge("list", err).WithRef(name)
	}
	defer tr.Close()

	var members []Member
	for {
		if err := ctx.Err(); err != nil {
			return nil, tserrors.Merge("list", err).WithRef(name)
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return members, nil
		}
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return nil, tserrors.Merge("list", fmt.Errorf("read header: %w", err)).WithRef(name)
		}
		m := Member{
			Name: strings.TrimSuffix(hdr.Name, "/"),
			Size: hdr.Size,
			Dir:  hdr.Typeflag == tar.TypeDir,
		}
		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			m.Link = hdr.Linkname
		}
		members = append(members, m)
	}
}

// memberPath validates a header name and returns it cleaned, using
// forward slashes. An empty result names the archive root.
func memberPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty member name", tserrors.ErrUnsafePath)
	}
	if path.IsAbs(name) || filepath.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("%w: absolute member name %q", tserrors.ErrUnsafePath, name)
	}
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", fmt.Errorf("%w: member name %q escapes the archive", tserrors.ErrUnsafePath, name)
		}
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// extraction describes an archive unpacked by extract.
type extraction struct {
	// headers holds the header of every file and directory written to disk,
	// keyed by member path.
	headers map[string]*tar.Header

	// links holds symlink and hard link entries. They are kept as headers
	// only and never created on disk.
	links map[string]*tar.Header
}

// extract writes every regular file and directory of the archive at name
// under dir. Link entries are collected without touching the filesystem.
// A later entry with the same path replaces an earlier one.
func (e *Engine) extract(ctx context.Context, name, dir string) (*extraction, error) {
	tr, err := openTar(e.fs, name)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	buf := pool.GetCopyBuffer()
	defer pool.PutCopyBuffer(buf)

	x := &extraction{
		headers: make(map[string]*tar.Header),
		links:   make(map[string]*tar.Header),
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return x, nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return nil, fmt.Errorf("%w: %w", tserrors.ErrUnsafePath, err)
		}
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}

		rel, err := memberPath(hdr.Name)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		kept := *hdr
		kept.Name = rel

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := e.fs.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %q: %w", rel, err)
			}
		case tar.TypeReg:
			if err := e.writeMember(target, hdr, tr, buf); err != nil {
				return nil, fmt.Errorf("extract %q: %w", rel, err)
			}
		case tar.TypeSymlink, tar.TypeLink:
			if err := localfs.RemoveAll(e.fs, target); err != nil {
				return nil, fmt.Errorf("replace %q: %w", rel, err)
			}
			delete(x.headers, rel)
			x.links[rel] = &kept
			continue
		default:
			e.logger.WarnContext(ctx, "skipping unsupported archive entry",
				"member", hdr.Name, "type", string(hdr.Typeflag))
			continue
		}
		delete(x.links, rel)
		x.headers[rel] = &kept
	}
}

func (e *Engine) writeMember(target string, hdr *tar.Header, r io.Reader, buf []byte) error {
	if err := e.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// An earlier directory entry of the same name is replaced by the file.
	if info, err := e.fs.Lstat(target); err == nil && info.IsDir() {
		if err := localfs.RemoveAll(e.fs, target); err != nil {
			return err
		}
	}

	perm := os.FileMode(hdr.Mode).Perm() | 0o600
	f, err := e.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
