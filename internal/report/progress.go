package report

import (
	"fmt"
	"io"
	"sync"
)

// ProgressTracker receives transfer progress.
type ProgressTracker interface {
	// Update is called after every committed chunk.
	Update(bytesTransferred, totalBytes int64)

	// Complete is called when the transfer completes successfully.
	Complete()

	// Error is called when the transfer fails.
	Error(err error)
}

// Progress prints a line per update in the form
// "↑ name: 4.0 MiB / 12.0 MiB (33%)".
type Progress struct {
	mu   sync.Mutex
	w    io.Writer
	name string
	last int64
}

// NewProgress creates a Progress for the transfer of name.
func NewProgress(w io.Writer, name string) *Progress {
	return &Progress{w: w, name: name}
}

// Update implements ProgressTracker.
func (p *Progress) Update(transferred, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = transferred

	pct := int64(100)
	if total > 0 {
		pct = transferred * 100 / total
	}
	fmt.Fprintf(p.w, "↑ %s: %s / %s (%d%%)\n", p.name, FormatBytes(transferred), FormatBytes(total), pct)
}

// Complete implements ProgressTracker.
func (p *Progress) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s: transfer complete (%s)\n", markSuccess, p.name, FormatBytes(p.last))
}

// Error implements ProgressTracker.
func (p *Progress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s: transfer failed after %s: %v\n", markFailure, p.name, FormatBytes(p.last), err)
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var _ ProgressTracker = (*Progress)(nil)
