// Package remote defines the contract between tarsync and the object store
// that holds the master archive.
//
// A Store exposes two ways to write an object: a single-shot Upload for
// content that fits in one chunk, and a session protocol for larger content.
// A session is opened with the first chunk, extended with AppendSession and
// committed to its destination with FinishSession. The destination object is
// replaced only when FinishSession (or Upload) succeeds.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("remote: object not found")

	// ErrAccessDenied indicates the credential is not allowed to perform the operation.
	ErrAccessDenied = errors.New("remote: access denied")

	// ErrConflict indicates an add-mode write to an object that already exists.
	ErrConflict = errors.New("remote: object already exists")

	// ErrUnknownSession indicates a cursor refers to a session the store does not know.
	ErrUnknownSession = errors.New("remote: unknown upload session")
)

// Ref identifies an object in the remote store.
type Ref string

// String returns the ref as a plain string.
func (r Ref) String() string {
	return string(r)
}

// Base returns the last element of the ref's path.
func (r Ref) Base() string {
	return path.Base(strings.TrimRight(string(r), "/"))
}

// Key returns the ref without its leading slashes, as used for object keys.
func (r Ref) Key() string {
	return strings.TrimLeft(string(r), "/")
}

// Validate checks that the ref names an object.
func (r Ref) Validate() error {
	if strings.TrimSpace(r.Key()) == "" {
		return fmt.Errorf("remote: empty object ref %q", string(r))
	}
	return nil
}

// WriteMode controls how a write treats an existing object.
type WriteMode string

const (
	// WriteModeOverwrite replaces any existing object.
	WriteModeOverwrite WriteMode = "overwrite"

	// WriteModeAdd fails with ErrConflict if the object exists.
	WriteModeAdd WriteMode = "add"
)

// Cursor is the position within an upload session.
type Cursor struct {
	// SessionID is the opaque identifier issued by StartSession
	SessionID string

	// Offset is the number of bytes already committed to the session
	Offset int64
}

// Store is the remote store client used by the transport and fetch stages.
// Implementations must map provider-specific failures onto the sentinel
// errors of this package where one applies.
type Store interface {
	// Upload writes content to ref in a single call.
	Upload(ctx context.Context, ref Ref, content []byte, mode WriteMode) error

	// StartSession opens an upload session for ref with its first chunk and
	// returns the session identifier.
	StartSession(ctx context.Context, ref Ref, chunk []byte) (string, error)

	// AppendSession adds chunk to the session at cursor.Offset.
	AppendSession(ctx context.Context, cursor Cursor, chunk []byte) error

	// FinishSession commits the final chunk at cursor.Offset and writes the
	// assembled object to ref.
	FinishSession(ctx context.Context, cursor Cursor, ref Ref, mode WriteMode, chunk []byte) error

	// Download streams the object at ref into w.
	// It returns ErrNotFound if the object does not exist.
	Download(ctx context.Context, ref Ref, w io.Writer) error
}

// Verifier confirms that a store's credential is accepted.
type Verifier interface {
	// Verify returns an error if the remote store rejects the credential.
	Verify(ctx context.Context) error
}

// Client is an authenticated store.
type Client interface {
	Store
	Verifier
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err indicates a rejected credential or permission.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
