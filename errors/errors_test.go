package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with ref",
			err:  Transport("appendSession", errors.New("quota exceeded")).WithRef("/master.tar"),
			want: "tarsync.appendSession /master.tar: quota exceeded",
		},
		{
			name: "without ref",
			err:  Auth("verify", ErrInvalidCredential),
			want: "tarsync.verify: tarsync: invalid access credential",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	base := Fetch("download", errors.New("boom"))
	wrapped := fmt.Errorf("cycle 1: %w", base)

	assert.Equal(t, KindFetch, KindOf(base))
	assert.Equal(t, KindFetch, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	assert.True(t, IsKind(wrapped, KindFetch))
	assert.False(t, IsKind(wrapped, KindTransport))
	assert.False(t, IsKind(nil, KindUnknown))
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := Validation("validate", ErrUnsupportedFormat).WithRef("bundle.zip")

	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.False(t, errors.Is(err, ErrMissingCredential))

	var target *Error
	assert.True(t, errors.As(fmt.Errorf("outer: %w", err), &target))
	assert.Equal(t, "bundle.zip", target.Ref)
}

func TestKind_Label(t *testing.T) {
	for _, k := range []Kind{KindAuth, KindValidation, KindFetch, KindMerge, KindTransport, KindConfig} {
		assert.NotEqual(t, KindUnknown.Label(), k.Label(), "kind %s should have its own label", k)
	}
	assert.Equal(t, "AUTH", KindAuth.String())
}
