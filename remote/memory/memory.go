// Package memory provides an in-memory remote store for testing and dry runs.
// It implements the full remote.Client interface with thread-safe operations
// and keeps a log of every call it receives.
package memory

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/input-output-hk/tarsync/remote"
)

// Op names recorded in the call log.
const (
	OpUpload        = "upload"
	OpStartSession  = "startSession"
	OpAppendSession = "appendSession"
	OpFinishSession = "finishSession"
	OpDownload      = "download"
	OpVerify        = "verify"
)

// Call is a single recorded store call.
type Call struct {
	Op        string
	Ref       remote.Ref
	SessionID string
	Offset    int64
	Size      int
	Mode      remote.WriteMode
}

type session struct {
	ref  remote.Ref
	data bytes.Buffer
}

// Store is an in-memory remote.Client.
type Store struct {
	// objects holds committed object contents keyed by ref
	objects map[remote.Ref][]byte
	// sessions holds open upload sessions keyed by id
	sessions map[string]*session
	calls    []Call
	// VerifyErr, when set, is returned by Verify
	VerifyErr error
	mu        sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		objects:  make(map[remote.Ref][]byte),
		sessions: make(map[string]*session),
	}
}

// Put stores content at ref directly, bypassing the call log.
func (s *Store) Put(ref remote.Ref, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = bytes.Clone(content)
}

// Object returns a copy of the content stored at ref.
func (s *Store) Object(ref remote.Ref) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[ref]
	return bytes.Clone(data), ok
}

// Calls returns a copy of the call log.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// OpenSessions returns the number of sessions that were started but not finished.
func (s *Store) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Verify implements remote.Verifier.
func (s *Store) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: OpVerify})
	return s.VerifyErr
}

// Upload implements remote.Store.
func (s *Store) Upload(ctx context.Context, ref remote.Ref, content []byte, mode remote.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: OpUpload, Ref: ref, Size: len(content), Mode: mode})
	return s.commit(ref, content, mode)
}

// StartSession implements remote.Store.
func (s *Store) StartSession(ctx context.Context, ref remote.Ref, chunk []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &session{ref: ref}
	sess.data.Write(chunk)
	s.sessions[id] = sess
	s.calls = append(s.calls, Call{Op: OpStartSession, Ref: ref, SessionID: id, Size: len(chunk)})
	return id, nil
}

// AppendSession implements remote.Store.
func (s *Store) AppendSession(ctx context.Context, cursor remote.Cursor, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Op:        OpAppendSession,
		SessionID: cursor.SessionID,
		Offset:    cursor.Offset,
		Size:      len(chunk),
	})

	sess, err := s.lookup(cursor)
	if err != nil {
		return err
	}
	sess.data.Write(chunk)
	return nil
}

// FinishSession implements remote.Store.
func (s *Store) FinishSession(
	ctx context.Context,
	cursor remote.Cursor,
	ref remote.Ref,
	mode remote.WriteMode,
	chunk []byte,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Op:        OpFinishSession,
		Ref:       ref,
		SessionID: cursor.SessionID,
		Offset:    cursor.Offset,
		Size:      len(chunk),
		Mode:      mode,
	})

	sess, err := s.lookup(cursor)
	if err != nil {
		return err
	}
	sess.data.Write(chunk)
	if err := s.commit(ref, sess.data.Bytes(), mode); err != nil {
		return err
	}
	delete(s.sessions, cursor.SessionID)
	return nil
}

// Download implements remote.Store.
func (s *Store) Download(ctx context.Context, ref remote.Ref, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: OpDownload, Ref: ref})
	data, ok := s.objects[ref]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("memory: download %s: %w", ref, remote.ErrNotFound)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("memory: download %s: %w", ref, err)
	}
	return nil
}

// lookup returns the session for cursor, checking the offset matches the
// bytes committed so far. Callers must hold s.mu.
func (s *Store) lookup(cursor remote.Cursor) (*session, error) {
	sess, ok := s.sessions[cursor.SessionID]
	if !ok {
		return nil, fmt.Errorf("memory: session %q: %w", cursor.SessionID, remote.ErrUnknownSession)
	}
	if got := int64(sess.data.Len()); got != cursor.Offset {
		return nil, fmt.Errorf("memory: session %q: incorrect offset %d, expected %d",
			cursor.SessionID, cursor.Offset, got)
	}
	return sess, nil
}

// commit stores content at ref. Callers must hold s.mu.
func (s *Store) commit(ref remote.Ref, content []byte, mode remote.WriteMode) error {
	if _, exists := s.objects[ref]; exists && mode == remote.WriteModeAdd {
		return fmt.Errorf("memory: write %s: %w", ref, remote.ErrConflict)
	}
	s.objects[ref] = bytes.Clone(content)
	return nil
}

func newSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("memory: generate session id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

var _ remote.Client = (*Store)(nil)
