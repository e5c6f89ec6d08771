package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/internal/testutil"
)

const scratch = "/scratch"

func newEngine(t *testing.T, outputName string, opts ...Option) (*Engine, billy.Filesystem) {
	t.Helper()
	fsys := localfs.Memory()
	opts = append([]Option{WithFilesystem(fsys), WithScratchDir(scratch)}, opts...)
	return New(outputName, opts...), fsys
}

func writeInput(t *testing.T, fsys billy.Filesystem, path, body string) {
	t.Helper()
	require.NoError(t, localfs.WriteFile(fsys, path, []byte(body), 0o644))
}

// assertScratchHoldsOnly checks that nothing but the named files is left in the scratch dir.
func assertScratchHoldsOnly(t *testing.T, fsys billy.Filesystem, names ...string) {
	t.Helper()
	entries, err := fsys.ReadDir(scratch)
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.ElementsMatch(t, names, got)
}

func TestMerge_NoExistingArchive(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	writeInput(t, fsys, "/in/sub/report.tar", "report body")

	out, err := e.Merge(context.Background(), "", "/in/sub/report.tar")
	require.NoError(t, err)
	assert.Equal(t, "/scratch/temp_master.tar", out)

	files, names := testutil.ReadTar(t, fsys, out)
	assert.Equal(t, []string{"report.tar"}, names)
	assert.Equal(t, "report body", files["report.tar"])
	assertScratchHoldsOnly(t, fsys, "temp_master.tar")
}

func TestMerge_ReplacesMemberByName(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "a.txt", Body: "A"},
		testutil.TarEntry{Name: "b.txt", Body: "old B"},
	)
	writeInput(t, fsys, "/new/b.txt", "new B")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/b.txt")
	require.NoError(t, err)

	files, names := testutil.ReadTar(t, fsys, out)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
	assert.Equal(t, map[string]string{"a.txt": "A", "b.txt": "new B"}, files)
	assertScratchHoldsOnly(t, fsys, "temp_master.tar")
}

func TestMerge_AddsNewMember(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "b.txt", Body: "B"},
		testutil.TarEntry{Name: "a.txt", Body: "A"},
	)
	writeInput(t, fsys, "/new/c.txt", "C")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/c.txt")
	require.NoError(t, err)

	members, err := e.List(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, members, 3)
	// Repacked members come out sorted by name.
	assert.Equal(t, "a.txt", members[0].Name)
	assert.Equal(t, "b.txt", members[1].Name)
	assert.Equal(t, Member{Name: "c.txt", Size: 1}, members[2])
}

func TestMerge_Idempotent(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "a.txt", Body: "A"},
	)
	writeInput(t, fsys, "/new/b.txt", "B")

	first, err := e.Merge(context.Background(), "/in/master.tar", "/new/b.txt")
	require.NoError(t, err)
	// Feed the result back in as the existing archive.
	data, err := localfs.ReadFile(fsys, first)
	require.NoError(t, err)
	require.NoError(t, localfs.WriteFile(fsys, "/in/round1.tar", data, 0o644))

	second, err := e.Merge(context.Background(), "/in/round1.tar", "/new/b.txt")
	require.NoError(t, err)

	files, names := testutil.ReadTar(t, fsys, second)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
	assert.Equal(t, map[string]string{"a.txt": "A", "b.txt": "B"}, files)
}

func TestMerge_EmptyExistingArchive(t *testing.T) {
	for name, body := range map[string][]byte{
		"zero-byte file": nil,
		"end-of-archive": testutil.BuildTar(t, false),
	} {
		t.Run(name, func(t *testing.T) {
			e, fsys := newEngine(t, "master.tar")
			require.NoError(t, localfs.WriteFile(fsys, "/in/master.tar", body, 0o644))
			writeInput(t, fsys, "/new/report.tar", "R")

			out, err := e.Merge(context.Background(), "/in/master.tar", "/new/report.tar")
			require.NoError(t, err)

			_, names := testutil.ReadTar(t, fsys, out)
			assert.Equal(t, []string{"report.tar"}, names)
		})
	}
}

func TestMerge_NestedDirectories(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "./", Typeflag: tar.TypeDir},
		testutil.TarEntry{Name: "app/", Typeflag: tar.TypeDir},
		testutil.TarEntry{Name: "app/conf/props.conf", Body: "p"},
		testutil.TarEntry{Name: "./top.txt", Body: "t"},
	)
	writeInput(t, fsys, "/new/extra.txt", "e")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/extra.txt")
	require.NoError(t, err)

	files, names := testutil.ReadTar(t, fsys, out)
	assert.Equal(t, []string{"app", "app/conf", "app/conf/props.conf", "extra.txt", "top.txt"}, names)
	assert.Equal(t, "p", files["app/conf/props.conf"])

	members, err := e.List(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, members[0].Dir)
}

func TestMerge_ReplacesDirectoryMember(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "app/", Typeflag: tar.TypeDir},
		testutil.TarEntry{Name: "app/inner.txt", Body: "i"},
		testutil.TarEntry{Name: "keep.txt", Body: "k"},
	)
	writeInput(t, fsys, "/new/app", "now a file")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/app")
	require.NoError(t, err)

	files, names := testutil.ReadTar(t, fsys, out)
	assert.Equal(t, []string{"app", "keep.txt"}, names)
	assert.Equal(t, "now a file", files["app"])
}

// readHeaders returns the headers of the archive at name keyed by member name.
func readHeaders(t *testing.T, fsys billy.Filesystem, name string) map[string]*tar.Header {
	t.Helper()
	tr, err := openTar(fsys, name)
	require.NoError(t, err)
	defer tr.Close()

	headers := make(map[string]*tar.Header)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return headers
		}
		require.NoError(t, err)
		headers[hdr.Name] = hdr
	}
}

func TestMerge_KeepsLinkMembers(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "v2.txt", Body: "v2"},
		testutil.TarEntry{Name: "current", Typeflag: tar.TypeSymlink, Linkname: "v2.txt"},
		testutil.TarEntry{Name: "alias.txt", Typeflag: tar.TypeLink, Linkname: "v2.txt"},
		testutil.TarEntry{Name: "passwd", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"},
	)
	writeInput(t, fsys, "/new/b.txt", "B")

	ctx := context.Background()
	before, err := e.List(ctx, "/in/master.tar")
	require.NoError(t, err)

	out, err := e.Merge(ctx, "/in/master.tar", "/new/b.txt")
	require.NoError(t, err)

	members, err := e.List(ctx, out)
	require.NoError(t, err)
	assert.Len(t, members, len(before)+1)
	assert.Equal(t, []Member{
		{Name: "b.txt", Size: 1},
		{Name: "current", Link: "v2.txt"},
		{Name: "passwd", Link: "/etc/passwd"},
		{Name: "v2.txt", Size: 2},
		{Name: "alias.txt", Link: "v2.txt"},
	}, members)

	headers := readHeaders(t, fsys, out)
	assert.Equal(t, byte(tar.TypeSymlink), headers["current"].Typeflag)
	assert.Equal(t, byte(tar.TypeLink), headers["alias.txt"].Typeflag)

	// Links are never materialised in the scratch directory.
	assertScratchHoldsOnly(t, fsys, "temp_master.tar")
}

func TestMerge_ReplacesLinkMember(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "v2.txt", Body: "v2"},
		testutil.TarEntry{Name: "current", Typeflag: tar.TypeSymlink, Linkname: "v2.txt"},
	)
	writeInput(t, fsys, "/new/current", "real file")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/current")
	require.NoError(t, err)

	headers := readHeaders(t, fsys, out)
	require.Len(t, headers, 2)
	assert.Equal(t, byte(tar.TypeReg), headers["current"].Typeflag)
	assert.Empty(t, headers["current"].Linkname)

	files, _ := testutil.ReadTar(t, fsys, out)
	assert.Equal(t, "real file", files["current"])
}

func TestMerge_DropsHardLinkToReplacedMember(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "conf", Typeflag: tar.TypeDir},
		testutil.TarEntry{Name: "conf/app.conf", Body: "old"},
		testutil.TarEntry{Name: "app.conf", Typeflag: tar.TypeLink, Linkname: "conf/app.conf"},
		testutil.TarEntry{Name: "keep.txt", Body: "keep"},
	)
	writeInput(t, fsys, "/new/conf", "now a file")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/conf")
	require.NoError(t, err)

	_, names := testutil.ReadTar(t, fsys, out)
	assert.Equal(t, []string{"conf", "keep.txt"}, names)
}

func TestMerge_SkipsSpecialFiles(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "a.txt", Body: "A"},
		testutil.TarEntry{Name: "pipe", Typeflag: tar.TypeFifo},
	)
	writeInput(t, fsys, "/new/b.txt", "B")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/b.txt")
	require.NoError(t, err)

	_, names := testutil.ReadTar(t, fsys, out)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestMerge_KeepsMemberModes(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false,
		testutil.TarEntry{Name: "bin", Typeflag: tar.TypeDir, Mode: 0o700},
		testutil.TarEntry{Name: "bin/run.sh", Body: "#!/bin/sh", Mode: 0o755},
		testutil.TarEntry{Name: "readonly.txt", Body: "ro", Mode: 0o444},
	)
	writeInput(t, fsys, "/new/b.txt", "B")

	out, err := e.Merge(context.Background(), "/in/master.tar", "/new/b.txt")
	require.NoError(t, err)

	headers := readHeaders(t, fsys, out)
	assert.Equal(t, int64(0o700), headers["bin/"].Mode)
	assert.Equal(t, int64(0o755), headers["bin/run.sh"].Mode)
	assert.Equal(t, int64(0o444), headers["readonly.txt"].Mode)
}

func TestMerge_RejectsUnsafePaths(t *testing.T) {
	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/passwd", `..\evil.txt`} {
		t.Run(name, func(t *testing.T) {
			e, fsys := newEngine(t, "master.tar")
			testutil.WriteTar(t, fsys, "/in/master.tar", false,
				testutil.TarEntry{Name: "ok.txt", Body: "ok"},
				testutil.TarEntry{Name: name, Body: "bad"},
			)
			writeInput(t, fsys, "/new/b.txt", "B")

			_, err := e.Merge(context.Background(), "/in/master.tar", "/new/b.txt")
			require.Error(t, err)
			assert.ErrorIs(t, err, tserrors.ErrUnsafePath)
			assert.True(t, tserrors.IsKind(err, tserrors.KindMerge))
			assertScratchHoldsOnly(t, fsys)

			ok, err := localfs.Exists(fsys, "/evil.txt")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMerge_CorruptArchive(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	writeInput(t, fsys, "/in/master.tar", "this is not a tar archive at all, just text that is long enough")
	writeInput(t, fsys, "/new/b.txt", "B")

	_, err := e.Merge(context.Background(), "/in/master.tar", "/new/b.txt")
	require.Error(t, err)
	assert.True(t, tserrors.IsKind(err, tserrors.KindMerge))
	assertScratchHoldsOnly(t, fsys)
}

func TestMerge_MissingInputs(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	writeInput(t, fsys, "/new/b.txt", "B")

	_, err := e.Merge(context.Background(), "", "/new/missing.txt")
	assert.True(t, tserrors.IsKind(err, tserrors.KindMerge))

	_, err = e.Merge(context.Background(), "/in/missing.tar", "/new/b.txt")
	assert.True(t, tserrors.IsKind(err, tserrors.KindMerge))
	assertScratchHoldsOnly(t, fsys)
}

func TestMerge_Compression(t *testing.T) {
	tests := []struct {
		name       string
		outputName string
		inputGzip  bool
		opts       []Option
		wantGzip   bool
	}{
		{name: "plain stays plain", outputName: "master.tar"},
		{name: "gzip input, plain name", outputName: "master.tar", inputGzip: true},
		{name: "tar.gz name", outputName: "master.tar.gz", wantGzip: true},
		{name: "tgz name", outputName: "master.TGZ", inputGzip: true, wantGzip: true},
		{name: "explicit format", outputName: "master.tar", opts: []Option{WithFormat(FormatGzip)}, wantGzip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, fsys := newEngine(t, tt.outputName, tt.opts...)
			testutil.WriteTar(t, fsys, "/in/existing", tt.inputGzip,
				testutil.TarEntry{Name: "a.txt", Body: "A"},
			)
			writeInput(t, fsys, "/new/b.txt", "B")

			out, err := e.Merge(context.Background(), "/in/existing", "/new/b.txt")
			require.NoError(t, err)
			assert.Equal(t, tt.wantGzip, testutil.IsGzip(t, fsys, out))

			files, _ := testutil.ReadTar(t, fsys, out)
			assert.Equal(t, map[string]string{"a.txt": "A", "b.txt": "B"}, files)
		})
	}
}

func TestMerge_CanceledContext(t *testing.T) {
	e, fsys := newEngine(t, "master.tar")
	testutil.WriteTar(t, fsys, "/in/master.tar", false, testutil.TarEntry{Name: "a.txt", Body: "A"})
	writeInput(t, fsys, "/new/b.txt", "B")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Merge(ctx, "/in/master.tar", "/new/b.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assertScratchHoldsOnly(t, fsys)
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{
		"/Bots_V3_splunkapps.tar": FormatTar,
		"master.tar.gz":           FormatGzip,
		"master.tgz":              FormatGzip,
		"MASTER.TAR.GZ":           FormatGzip,
		"master":                  FormatTar,
	}
	for name, want := range tests {
		assert.Equal(t, want, FormatFor(name), name)
	}
	assert.Equal(t, "tar", FormatTar.String())
	assert.Equal(t, "tar+gzip", FormatGzip.String())
}

func TestMemberPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.txt", want: "a.txt"},
		{in: "./a.txt", want: "a.txt"},
		{in: "dir/", want: "dir"},
		{in: "./", want: ""},
		{in: "a/./b", want: "a/b"},
		{in: "", wantErr: true},
		{in: "/abs", wantErr: true},
		{in: "..", wantErr: true},
		{in: "a/../b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := memberPath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, tserrors.ErrUnsafePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
