package orchestrator

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"

	"github.com/input-output-hk/tarsync/internal/report"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFilesystem sets the local filesystem for inputs and scratch files.
func WithFilesystem(fsys billy.Filesystem) Option {
	return func(o *Orchestrator) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithScratchDir sets the parent of the per-run scratch directory.
// By default the filesystem's temporary directory is used.
func WithScratchDir(dir string) Option {
	return func(o *Orchestrator) {
		o.scratchBase = dir
	}
}

// WithChunkSize sets the transfer chunk size.
func WithChunkSize(size int) Option {
	return func(o *Orchestrator) {
		o.chunkSize = size
	}
}

// WithProgress sets a tracker for upload progress.
func WithProgress(tracker report.ProgressTracker) Option {
	return func(o *Orchestrator) {
		o.progress = tracker
	}
}

// WithReporter sets where status lines are printed.
func WithReporter(r *report.Reporter) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithLogger sets the logger handed to every stage.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}
