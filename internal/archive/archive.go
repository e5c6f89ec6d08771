// Package archive maintains a tar archive whose members are unique by name.
//
// Merging adds one file to an existing archive: the archive is extracted to
// a scratch directory, any top-level entry with the new file's base name is
// replaced, and the directory is packed again. Symlinks and hard links are
// never created on disk; their headers are written back unchanged. Archives
// may be plain tar or gzip-compressed tar; the reader detects gzip from its
// magic bytes.
package archive

import (
	"log/slog"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/input-output-hk/tarsync/internal/localfs"
)

// OutputPrefix is prepended to the remote base name to name merged archives.
const OutputPrefix = "temp_"

// Format is the compression applied to a written archive.
type Format int

const (
	// FormatTar writes an uncompressed tar stream.
	FormatTar Format = iota

	// FormatGzip writes a gzip-compressed tar stream.
	FormatGzip
)

// String returns the format name.
func (f Format) String() string {
	if f == FormatGzip {
		return "tar+gzip"
	}
	return "tar"
}

// FormatFor picks the output format advertised by name's suffix.
func FormatFor(name string) Format {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return FormatGzip
	}
	return FormatTar
}

// Member is an entry listed from an archive.
type Member struct {
	// Name is the member path inside the archive, without a trailing slash.
	Name string

	// Size is the content length; zero for directories.
	Size int64

	// Dir reports whether the member is a directory entry.
	Dir bool

	// Link is the target of a symlink or hard link member.
	Link string
}

// Option configures an Engine.
type Option func(*Engine)

// WithFilesystem sets the filesystem archives are read from and written to.
func WithFilesystem(fsys billy.Filesystem) Option {
	return func(e *Engine) {
		if fsys != nil {
			e.fs = fsys
		}
	}
}

// WithScratchDir sets the directory for extraction and merged output.
// By default the filesystem's temporary directory is used.
func WithScratchDir(dir string) Option {
	return func(e *Engine) {
		e.scratchDir = dir
	}
}

// WithFormat overrides the output format chosen from the output name.
func WithFormat(format Format) Option {
	return func(e *Engine) {
		e.format = format
		e.formatSet = true
	}
}

// WithLogger sets the logger for merge events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine merges files into archives.
type Engine struct {
	fs         billy.Filesystem
	scratchDir string
	outputName string
	format     Format
	formatSet  bool
	logger     *slog.Logger
}

// New creates an Engine whose merged archives are named
// OutputPrefix + outputName. The output format follows outputName's suffix
// unless WithFormat is given.
func New(outputName string, opts ...Option) *Engine {
	e := &Engine{
		fs:         localfs.OS(),
		outputName: outputName,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.formatSet {
		e.format = FormatFor(outputName)
	}
	return e
}

// Format returns the format merged archives are written in.
func (e *Engine) Format() Format {
	return e.format
}
