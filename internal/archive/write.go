package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/internal/pool"
)

// source is one entry to pack: a local path and its member name, or a
// link header written as is.
type source struct {
	path    string
	name    string
	info    os.FileInfo
	modTime time.Time

	// mode is the permission recorded by the archive the entry came from;
	// zero keeps the mode of the file on disk.
	mode int64

	link *tar.Header
}

// tarWriter writes a tar stream to a file, optionally through gzip.
type tarWriter struct {
	*tar.Writer
	gz   *gzip.Writer
	file billy.File
	buf  []byte
}

func createTar(fsys billy.Filesystem, name string, format Format) (*tarWriter, error) {
	f, err := fsys.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	w := &tarWriter{file: f, buf: pool.GetCopyBuffer()}
	if format == FormatGzip {
		w.gz = gzip.NewWriter(f)
		w.Writer = tar.NewWriter(w.gz)
	} else {
		w.Writer = tar.NewWriter(f)
	}
	return w, nil
}

// Close flushes the tar and gzip streams and closes the file.
func (w *tarWriter) Close() error {
	defer pool.PutCopyBuffer(w.buf)
	err := w.Writer.Close()
	if w.gz != nil {
		err = errors.Join(err, w.gz.Close())
	}
	return errors.Join(err, w.file.Close())
}

// add writes one source as a member.
func (w *tarWriter) add(fsys billy.Filesystem, src source) error {
	if src.link != nil {
		hdr := *src.link
		hdr.Name = src.name
		hdr.Size = 0
		// Let the writer pick the format for the cleaned name; a stale PAX
		// path record would otherwise override it.
		hdr.Format = tar.FormatUnknown
		hdr.PAXRecords = nil
		if err := w.WriteHeader(&hdr); err != nil {
			return fmt.Errorf("write header %q: %w", src.name, err)
		}
		return nil
	}

	hdr, err := tar.FileInfoHeader(src.info, "")
	if err != nil {
		return fmt.Errorf("header for %q: %w", src.name, err)
	}
	hdr.Name = src.name
	hdr.Uname, hdr.Gname = "", ""
	hdr.Uid, hdr.Gid = 0, 0
	if !src.modTime.IsZero() {
		hdr.ModTime = src.modTime
	}
	if src.mode != 0 {
		hdr.Mode = src.mode
	}
	// Access and change times are not kept; only the USTAR/PAX mtime is recorded.
	hdr.AccessTime, hdr.ChangeTime = time.Time{}, time.Time{}
	if src.info.IsDir() {
		hdr.Name += "/"
	}

	if err := w.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %q: %w", src.name, err)
	}
	if !src.info.Mode().IsRegular() {
		return nil
	}

	f, err := fsys.Open(src.path)
	if err != nil {
		return fmt.Errorf("open %q: %w", src.path, err)
	}
	defer f.Close()

	n, err := io.CopyBuffer(w, f, w.buf)
	if err != nil {
		return fmt.Errorf("write %q: %w", src.name, err)
	}
	if n != src.info.Size() {
		return fmt.Errorf("write %q: copied %d of %d bytes", src.name, n, src.info.Size())
	}
	return nil
}

// collect walks dir and returns every regular file and directory below it,
// sorted by member name. Times and modes come from headers when the member
// was extracted from an archive.
func collect(fsys billy.Filesystem, dir string, headers map[string]*tar.Header) ([]source, error) {
	var sources []source
	err := localfs.Walk(fsys, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		src := source{path: p, name: filepath.ToSlash(rel), info: info}
		if hdr := headers[src.name]; hdr != nil {
			src.modTime = hdr.ModTime
			src.mode = hdr.Mode
		}
		sources = append(sources, src)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortSources(sources)
	return sources, nil
}

// withLinks adds link headers to sources. Symlinks sort in with the other
// members. Hard links come after every other member so that each target is
// written before the link to it; a hard link whose target is not packed is
// returned in dropped instead.
func withLinks(sources []source, links map[string]*tar.Header) (packed []source, dropped []string) {
	names := make(map[string]bool, len(sources)+len(links))
	for _, src := range sources {
		names[src.name] = true
	}
	for name, hdr := range links {
		if hdr.Typeflag == tar.TypeSymlink {
			sources = append(sources, source{name: name, link: hdr})
			names[name] = true
		}
	}
	sortSources(sources)

	var hard []source
	for name, hdr := range links {
		if hdr.Typeflag != tar.TypeLink {
			continue
		}
		if !names[path.Clean(hdr.Linkname)] {
			dropped = append(dropped, name)
			continue
		}
		hard = append(hard, source{name: name, link: hdr})
	}
	sortSources(hard)
	sort.Strings(dropped)
	return append(sources, hard...), dropped
}

func sortSources(sources []source) {
	sort.Slice(sources, func(i, j int) bool { return sources[i].name < sources[j].name })
}
