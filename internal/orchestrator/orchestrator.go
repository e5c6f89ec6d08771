// Package orchestrator runs the update cycle for each changed file:
// validate the input, fetch the current master, merge the file in, upload
// the result and remove the local copies.
//
// Files are processed one at a time in the order given. The first failure
// stops the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-billy/v5"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/archive"
	"github.com/input-output-hk/tarsync/internal/fetch"
	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/internal/report"
	"github.com/input-output-hk/tarsync/internal/transport"
	"github.com/input-output-hk/tarsync/remote"
)

// SupportedSuffixes lists the accepted input file suffixes.
var SupportedSuffixes = []string{".tar.gz", ".tgz", ".tar"}

// Orchestrator keeps one master archive up to date.
type Orchestrator struct {
	store       remote.Store
	ref         remote.Ref
	fs          billy.Filesystem
	scratchBase string
	chunkSize   int
	progress    report.ProgressTracker
	reporter    *report.Reporter
	logger      *slog.Logger
}

// New creates an Orchestrator that maintains ref in store.
func New(store remote.Store, ref remote.Ref, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		ref:      ref,
		fs:       localfs.OS(),
		reporter: report.Discard(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ParseFileList splits a comma-separated list, trimming entries and
// dropping empty ones.
func ParseFileList(csv string) []string {
	var files []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			files = append(files, p)
		}
	}
	return files
}

// ValidateFile checks that path has a supported suffix and is a readable
// regular file. Failures are KindValidation errors.
func ValidateFile(fsys billy.Filesystem, path string) error {
	if !hasSupportedSuffix(path) {
		return tserrors.Validation("validate",
			fmt.Errorf("%w: %s", tserrors.ErrUnsupportedFormat, path)).WithRef(path)
	}
	if _, err := localfs.FileSize(fsys, path); err != nil {
		return tserrors.Validation("validate", err).WithRef(path)
	}
	return nil
}

func hasSupportedSuffix(path string) bool {
	for _, suffix := range SupportedSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// cycle holds the stages shared by every file of a run.
type cycle struct {
	fetcher   *fetch.Fetcher
	engine    *archive.Engine
	transport *transport.Transport
}

// Run processes files in order. Blank entries are skipped. Local scratch
// files are removed before Run returns, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, files []string) error {
	if err := o.ref.Validate(); err != nil {
		return tserrors.Validation("run", err).WithRef(o.ref.String())
	}

	work, err := localfs.TempDir(o.fs, o.scratchBase, "tarsync-")
	if err != nil {
		return tserrors.Merge("scratch", err)
	}
	defer func() {
		if err := localfs.RemoveAll(o.fs, work); err != nil {
			o.logger.WarnContext(ctx, "failed to remove scratch directory", "path", work, "error", err)
		}
	}()

	c := &cycle{
		fetcher: fetch.New(o.store,
			fetch.WithFilesystem(o.fs), fetch.WithScratchDir(work), fetch.WithLogger(o.logger)),
		engine: archive.New(o.ref.Base(),
			archive.WithFilesystem(o.fs), archive.WithScratchDir(work), archive.WithLogger(o.logger)),
		transport: transport.New(o.store,
			transport.WithFilesystem(o.fs), transport.WithChunkSize(o.chunkSize),
			transport.WithProgress(o.progress), transport.WithLogger(o.logger)),
	}
	o.logger.DebugContext(ctx, "run started",
		"ref", o.ref.String(), "format", c.engine.Format().String(), "files", len(files))

	for _, file := range files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if err := o.process(ctx, c, file); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, c *cycle, file string) (err error) {
	o.reporter.Info("Processing: %s", file)
	logger := o.logger.With("file", file, "ref", o.ref.String())

	if err := ValidateFile(o.fs, file); err != nil {
		if errors.Is(err, tserrors.ErrUnsupportedFormat) {
			o.reporter.Failure("Unsupported file format: %s", file)
		} else {
			o.reporter.Failure("Cannot read %s: %v", file, err)
		}
		return err
	}

	var masterPath, mergedPath string
	defer func() {
		for _, p := range []string{masterPath, mergedPath} {
			if rmErr := localfs.RemoveAll(o.fs, p); rmErr != nil {
				logger.WarnContext(ctx, "failed to remove scratch file", "path", p, "error", rmErr)
			}
		}
	}()

	masterPath, found, err := c.fetcher.Fetch(ctx, o.ref)
	if err != nil {
		o.reporter.Failure("Error downloading %s: %v", o.ref, err)
		return err
	}
	if found {
		o.reporter.Success("Downloaded %s", o.ref.Base())
	} else {
		o.reporter.Info("No existing file at %s, will create new one", o.ref)
	}

	mergedPath, err = c.engine.Merge(ctx, masterPath, file)
	if err != nil {
		o.reporter.Failure("Error updating archive: %v", err)
		return err
	}

	if err := c.transport.Transfer(ctx, mergedPath, o.ref); err != nil {
		o.reporter.Failure("Error uploading to %s: %v", o.ref, err)
		return err
	}

	o.reporter.Success("Successfully uploaded to %s", o.ref)
	logger.InfoContext(ctx, "file merged into master archive", "master_existed", found)
	return nil
}
