package transport

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"

	"github.com/input-output-hk/tarsync/internal/report"
)

// Option configures a Transport.
type Option func(*Transport)

// WithChunkSize sets both the single-upload threshold and the session step.
// Non-positive values are ignored.
func WithChunkSize(size int) Option {
	return func(t *Transport) {
		if size > 0 {
			t.chunkSize = size
		}
	}
}

// WithProgress sets a tracker notified after every committed chunk.
func WithProgress(tracker report.ProgressTracker) Option {
	return func(t *Transport) {
		t.progress = tracker
	}
}

// WithLogger sets the logger for transfer events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithFilesystem sets the filesystem local paths are opened from.
func WithFilesystem(fsys billy.Filesystem) Option {
	return func(t *Transport) {
		if fsys != nil {
			t.fs = fsys
		}
	}
}
