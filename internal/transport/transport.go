// Package transport moves a local file to a remote store in fixed-size
// chunks.
//
// Files no larger than the chunk size go up in one overwrite. Larger files
// open an upload session with the first chunk, append full chunks while more
// than one chunk remains, and commit the remainder with the finishing call.
// Only one chunk buffer is held at a time.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-git/go-billy/v5"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/internal/pool"
	"github.com/input-output-hk/tarsync/internal/report"
	"github.com/input-output-hk/tarsync/remote"
)

// DefaultChunkSize is the threshold and step used when none is configured (4 MiB).
const DefaultChunkSize = 4 * 1024 * 1024

// Transport uploads local files to a remote.Store.
type Transport struct {
	store     remote.Store
	fs        billy.Filesystem
	chunkSize int
	chunks    *pool.ChunkPool
	progress  report.ProgressTracker
	logger    *slog.Logger
}

// New creates a Transport writing to store.
func New(store remote.Store, opts ...Option) *Transport {
	t := &Transport{
		store:     store,
		fs:        localfs.OS(),
		chunkSize: DefaultChunkSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.chunks = pool.NewChunkPool(t.chunkSize)
	return t
}

// ChunkSize returns the configured chunk size.
func (t *Transport) ChunkSize() int {
	return t.chunkSize
}

// Transfer uploads the file at localPath to ref in overwrite mode.
// Any failure is returned as a KindTransport error; chunks already committed
// to a session are left for the store to expire.
func (t *Transport) Transfer(ctx context.Context, localPath string, ref remote.Ref) (err error) {
	size, err := localfs.FileSize(t.fs, localPath)
	if err != nil {
		return tserrors.Transport("stat", err).WithRef(localPath)
	}

	defer func() {
		if t.progress == nil {
			return
		}
		if err != nil {
			t.progress.Error(err)
			return
		}
		t.progress.Complete()
	}()

	if size <= int64(t.chunkSize) {
		return t.single(ctx, localPath, ref, size)
	}
	return t.session(ctx, localPath, ref, size)
}

func (t *Transport) single(ctx context.Context, localPath string, ref remote.Ref, size int64) error {
	data, err := localfs.ReadFile(t.fs, localPath)
	if err != nil {
		return tserrors.Transport("read", err).WithRef(localPath)
	}
	if int64(len(data)) != size {
		return tserrors.Transport("read", fmt.Errorf("%w: read %d of %d bytes", tserrors.ErrShortRead, len(data), size)).
			WithRef(localPath)
	}

	if err := t.store.Upload(ctx, ref, data, remote.WriteModeOverwrite); err != nil {
		return tserrors.Transport("upload", err).WithRef(ref.String())
	}
	t.logger.InfoContext(ctx, "uploaded file", "ref", ref.String(), "bytes", size)
	t.update(size, size)
	return nil
}

func (t *Transport) session(ctx context.Context, localPath string, ref remote.Ref, size int64) error {
	f, err := t.fs.Open(localPath)
	if err != nil {
		return tserrors.Transport("open", err).WithRef(localPath)
	}
	defer f.Close()

	buf := t.chunks.Get()
	defer t.chunks.Put(buf)
	chunk := int64(t.chunkSize)

	n, err := readChunk(f, buf)
	if err != nil {
		return tserrors.Transport("read", err).WithRef(localPath)
	}
	sessionID, err := t.store.StartSession(ctx, ref, buf[:n])
	if err != nil {
		return tserrors.Transport("startSession", err).WithRef(ref.String())
	}

	cursor := remote.Cursor{SessionID: sessionID, Offset: int64(n)}
	t.logger.InfoContext(ctx, "upload session started",
		"ref", ref.String(), "session_id", sessionID, "bytes", size)
	t.update(cursor.Offset, size)

	for cursor.Offset < size {
		if err := ctx.Err(); err != nil {
			return tserrors.Transport("appendSession", err).WithRef(ref.String())
		}

		if remaining := size - cursor.Offset; remaining <= chunk {
			n, err := readChunk(f, buf[:remaining])
			if err != nil {
				return tserrors.Transport("read", err).WithRef(localPath)
			}
			if err := t.store.FinishSession(ctx, cursor, ref, remote.WriteModeOverwrite, buf[:n]); err != nil {
				return tserrors.Transport("finishSession", err).WithRef(ref.String())
			}
			cursor.Offset += int64(n)
			t.update(cursor.Offset, size)
			break
		}

		n, err := readChunk(f, buf)
		if err != nil {
			return tserrors.Transport("read", err).WithRef(localPath)
		}
		if err := t.store.AppendSession(ctx, cursor, buf[:n]); err != nil {
			return tserrors.Transport("appendSession", err).WithRef(ref.String())
		}
		cursor.Offset += int64(n)
		t.logger.DebugContext(ctx, "chunk appended",
			"session_id", sessionID, "offset", cursor.Offset)
		t.update(cursor.Offset, size)
	}

	t.logger.InfoContext(ctx, "upload session finished",
		"ref", ref.String(), "session_id", sessionID, "bytes", cursor.Offset)
	return nil
}

func (t *Transport) update(transferred, total int64) {
	if t.progress != nil {
		t.progress.Update(transferred, total)
	}
}

// readChunk fills buf completely. A file that ends early is ErrShortRead.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read %d of %d bytes", tserrors.ErrShortRead, n, len(buf))
	}
	if err != nil {
		return n, fmt.Errorf("read chunk: %w", err)
	}
	return n, nil
}
