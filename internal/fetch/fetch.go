// Package fetch downloads the current master archive into the scratch
// directory. A master that does not exist yet is not an error.
package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/go-git/go-billy/v5"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/remote"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithFilesystem sets the filesystem downloads are written to.
func WithFilesystem(fsys billy.Filesystem) Option {
	return func(f *Fetcher) {
		if fsys != nil {
			f.fs = fsys
		}
	}
}

// WithScratchDir sets the directory downloads are written into.
// By default each Fetch creates a fresh directory under the filesystem's
// temporary directory.
func WithScratchDir(dir string) Option {
	return func(f *Fetcher) {
		f.scratchDir = dir
	}
}

// WithLogger sets the logger for fetch events.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher downloads remote objects to local files.
type Fetcher struct {
	store      remote.Store
	fs         billy.Filesystem
	scratchDir string
	logger     *slog.Logger
}

// New creates a Fetcher reading from store.
func New(store remote.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:  store,
		fs:     localfs.OS(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads ref to <scratch dir>/<ref base name>.
//
// It returns the local path and true when the object exists, and ("",
// false, nil) when the store reports it missing. Any other failure is a
// KindFetch error. A partially written file is removed on every failure.
// Without a scratch directory the download lands in a new temporary
// directory that the caller owns on success; on any other outcome it is
// removed.
func (f *Fetcher) Fetch(ctx context.Context, ref remote.Ref) (localPath string, found bool, err error) {
	if err := ref.Validate(); err != nil {
		return "", false, tserrors.Fetch("download", err).WithRef(ref.String())
	}

	dir := f.scratchDir
	// own is the directory Fetch created itself; it is removed again unless
	// a download is left in it for the caller.
	var own string
	if dir == "" {
		if dir, err = localfs.TempDir(f.fs, "", "tarsync-fetch-"); err != nil {
			return "", false, tserrors.Fetch("download", err).WithRef(ref.String())
		}
		own = dir
	} else if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return "", false, tserrors.Fetch("download", err).WithRef(dir)
	}
	localPath = filepath.Join(dir, ref.Base())
	cleanup := func(p string) {
		if own != "" {
			p = own
		}
		if rmErr := localfs.RemoveAll(f.fs, p); rmErr != nil {
			f.logger.WarnContext(ctx, "failed to remove partial download", "path", p, "error", rmErr)
		}
	}

	file, err := f.fs.Create(localPath)
	if err != nil {
		cleanup(localPath)
		return "", false, tserrors.Fetch("download", err).WithRef(localPath)
	}

	w := &countingWriter{w: file}
	downloadErr := f.store.Download(ctx, ref, w)
	closeErr := file.Close()

	if err := errors.Join(downloadErr, closeErr); err != nil {
		cleanup(localPath)
		if remote.IsNotFound(downloadErr) {
			f.logger.InfoContext(ctx, "remote archive not found", "ref", ref.String())
			return "", false, nil
		}
		return "", false, tserrors.Fetch("download", err).WithRef(ref.String())
	}

	f.logger.InfoContext(ctx, "downloaded remote archive", "ref", ref.String(), "path", localPath, "bytes", w.n)
	return localPath, true, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
