package testutil

import (
	"archive/tar"
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// TarEntry is a single entry written by BuildTar.
type TarEntry struct {
	Name     string
	Body     string
	Typeflag byte
	Linkname string
	Mode     int64
}

// BuildTar returns a tar stream holding entries in order, gzipped when compress is set.
// A zero Typeflag writes a regular file; a zero Mode writes 0644 (0755 for
// directories).
func BuildTar(t *testing.T, compress bool, entries ...TarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.Writer = &buf
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(&buf)
		w = gz
	}

	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: e.Typeflag,
			Linkname: e.Linkname,
			Mode:     0o644,
			ModTime:  time.Unix(1700000000, 0),
		}
		switch hdr.Typeflag {
		case 0:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		case tar.TypeDir:
			hdr.Mode = 0o755
		}
		if e.Mode != 0 {
			hdr.Mode = e.Mode
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.Body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	if gz != nil {
		require.NoError(t, gz.Close())
	}
	return buf.Bytes()
}

// WriteTar writes BuildTar's output to path on fsys.
func WriteTar(t *testing.T, fsys billy.Filesystem, path string, compress bool, entries ...TarEntry) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, path, BuildTar(t, compress, entries...), 0o644))
}

// ReadTar returns the regular-file members of the archive at path keyed by
// name, and the ordered list of all entry names. Gzip input is detected.
func ReadTar(t *testing.T, fsys billy.Filesystem, path string) (files map[string]string, names []string) {
	t.Helper()

	f, err := fsys.Open(path)
	require.NoError(t, err)
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		require.NoError(t, err)
		defer gz.Close()
		r = gz
	}

	files = make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, strings.TrimSuffix(hdr.Name, "/"))
		if hdr.Typeflag == tar.TypeReg {
			body, err := io.ReadAll(tr)
			require.NoError(t, err)
			files[hdr.Name] = string(body)
		}
	}
	return files, names
}

// IsGzip reports whether the file at path starts with the gzip magic bytes.
func IsGzip(t *testing.T, fsys billy.Filesystem, path string) bool {
	t.Helper()
	data, err := util.ReadFile(fsys, path)
	require.NoError(t, err)
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
