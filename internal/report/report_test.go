package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReporter(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.Info("fetching %s", "/master.tar")
	r.Success("uploaded %d bytes", 10)
	r.Failure("merge failed: %v", errors.New("disk full"))

	assert.Equal(t,
		"ℹ fetching /master.tar\n"+
			"✓ uploaded 10 bytes\n"+
			"✗ merge failed: disk full\n",
		buf.String())
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().Success("nothing to see")
	})
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "master.tar")

	p.Update(4*1024*1024, 12*1024*1024)
	p.Update(12*1024*1024, 12*1024*1024)
	p.Complete()

	assert.Equal(t,
		"↑ master.tar: 4.0 MiB / 12.0 MiB (33%)\n"+
			"↑ master.tar: 12.0 MiB / 12.0 MiB (100%)\n"+
			"✓ master.tar: transfer complete (12.0 MiB)\n",
		buf.String())
}

func TestProgress_Error(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "master.tar")
	p.Update(1024, 4096)
	p.Error(errors.New("reset"))

	assert.Contains(t, buf.String(), "✗ master.tar: transfer failed after 1.0 KiB: reset")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{4 * 1024 * 1024, "4.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBytes(tt.in))
		})
	}
}
