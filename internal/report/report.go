// Package report writes the human-readable status lines a run prints for
// each stage, and upload progress.
package report

import (
	"fmt"
	"io"
	"sync"
)

// Status line markers.
const (
	markSuccess = "✓"
	markFailure = "✗"
	markInfo    = "ℹ"
)

// Reporter prints one status line per call. It is safe for concurrent use.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Reporter writing to w.
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Discard returns a Reporter that prints nothing.
func Discard() *Reporter {
	return New(io.Discard)
}

// Info reports a stage that is starting or a neutral fact.
func (r *Reporter) Info(format string, args ...any) {
	r.line(markInfo, format, args...)
}

// Success reports a stage that completed.
func (r *Reporter) Success(format string, args ...any) {
	r.line(markSuccess, format, args...)
}

// Failure reports a stage that failed.
func (r *Reporter) Failure(format string, args ...any) {
	r.line(markFailure, format, args...)
}

func (r *Reporter) line(mark, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}
