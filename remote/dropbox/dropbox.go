// Package dropbox implements the remote store contract on Dropbox.
//
// Dropbox upload sessions match the contract directly: start with the first
// chunk, append at an offset, and finish with a commit that names the
// destination path and write mode.
package dropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"

	"github.com/input-output-hk/tarsync/remote"
)

// FilesAPI is the subset of the Dropbox files client used by Store.
type FilesAPI interface {
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error)
	UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error
	UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
}

// UsersAPI is the subset of the Dropbox users client used by Store.
type UsersAPI interface {
	GetCurrentAccount() (*users.FullAccount, error)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// WithHTTPClient sets the HTTP client used for Dropbox API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the logger for store operations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Store is a remote.Client backed by a Dropbox account.
// Refs are Dropbox paths; a missing leading slash is added.
type Store struct {
	files  FilesAPI
	users  UsersAPI
	logger *slog.Logger
}

// New creates a Store authenticated with an access token.
func New(token string, opts ...Option) *Store {
	o := &options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}

	cfg := dropbox.Config{
		Token:    token,
		LogLevel: dropbox.LogOff,
	}
	if o.httpClient != nil {
		cfg.Client = o.httpClient
	}

	return &Store{
		files:  files.New(cfg),
		users:  users.New(cfg),
		logger: o.logger,
	}
}

// NewWithClients creates a Store with custom API implementations.
// This is primarily used for testing.
func NewWithClients(filesAPI FilesAPI, usersAPI UsersAPI, opts ...Option) *Store {
	o := &options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}
	return &Store{files: filesAPI, users: usersAPI, logger: o.logger}
}

// Verify implements remote.Verifier by fetching the current account.
func (s *Store) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	account, err := s.users.GetCurrentAccount()
	if err != nil {
		return fmt.Errorf("dropbox.getCurrentAccount: %w", mapError(err))
	}
	if account != nil {
		s.logger.DebugContext(ctx, "dropbox account verified", "account_id", account.AccountId)
	}
	return nil
}

// Upload implements remote.Store.
func (s *Store) Upload(ctx context.Context, ref remote.Ref, content []byte, mode remote.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := dropboxPath(ref)
	arg := files.NewUploadArg(p)
	arg.Mode = writeMode(mode)

	if _, err := s.files.Upload(arg, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("dropbox.upload %s: %w", p, mapError(err))
	}
	return nil
}

// StartSession implements remote.Store. Dropbox does not need the
// destination until the session is finished, so ref is only logged.
func (s *Store) StartSession(ctx context.Context, ref remote.Ref, chunk []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := s.files.UploadSessionStart(files.NewUploadSessionStartArg(), bytes.NewReader(chunk))
	if err != nil {
		return "", fmt.Errorf("dropbox.uploadSessionStart %s: %w", dropboxPath(ref), mapError(err))
	}
	s.logger.DebugContext(ctx, "dropbox upload session started", "ref", ref.String(), "session_id", res.SessionId)
	return res.SessionId, nil
}

// AppendSession implements remote.Store.
func (s *Store) AppendSession(ctx context.Context, cursor remote.Cursor, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	arg := files.NewUploadSessionAppendArg(sessionCursor(cursor))
	if err := s.files.UploadSessionAppendV2(arg, bytes.NewReader(chunk)); err != nil {
		return fmt.Errorf("dropbox.uploadSessionAppend %s@%d: %w", cursor.SessionID, cursor.Offset, mapError(err))
	}
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
	p := dropboxPath(ref)
	commit := files.NewCommitInfo(p)
	commit.Mode = writeMode(mode)

	arg := files.NewUploadSessionFinishArg(sessionCursor(cursor), commit)
	if _, err := s.files.UploadSessionFinish(arg, bytes.NewReader(chunk)); err != nil {
		return fmt.Errorf("dropbox.uploadSessionFinish %s: %w", p, mapError(err))
	}
	return nil
}

// Download implements remote.Store.
func (s *Store) Download(ctx context.Context, ref remote.Ref, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := dropboxPath(ref)
	_, content, err := s.files.Download(files.NewDownloadArg(p))
	if err != nil {
		return fmt.Errorf("dropbox.download %s: %w", p, mapError(err))
	}
	defer content.Close()

	if _, err := io.Copy(w, content); err != nil {
		return fmt.Errorf("dropbox.download %s: %w", p, err)
	}
	return nil
}

func dropboxPath(ref remote.Ref) string {
	p := ref.String()
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func sessionCursor(c remote.Cursor) *files.UploadSessionCursor {
	return files.NewUploadSessionCursor(c.SessionID, uint64(c.Offset))
}

func writeMode(mode remote.WriteMode) *files.WriteMode {
	tag := files.WriteModeOverwrite
	if mode == remote.WriteModeAdd {
		tag = files.WriteModeAdd
	}
	return &files.WriteMode{Tagged: dropbox.Tagged{Tag: tag}}
}

// mapError attaches the matching remote sentinel to a Dropbox error.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isPathNotFound(err) {
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	}

	// Endpoint errors carry their error_summary as the message,
	// e.g. "path/conflict/file/.." or "invalid_access_token/..".
	summary := err.Error()
	switch {
	case strings.Contains(summary, "invalid_access_token"),
		strings.Contains(summary, "expired_access_token"),
		strings.Contains(summary, "missing_scope"):
		return fmt.Errorf("%w: %w", remote.ErrAccessDenied, err)
	case strings.Contains(summary, "/conflict"):
		return fmt.Errorf("%w: %w", remote.ErrConflict, err)
	case strings.Contains(summary, "lookup_failed/not_found"):
		return fmt.Errorf("%w: %w", remote.ErrUnknownSession, err)
	}
	return err
}

// isPathNotFound reports whether err is a download of a missing path.
func isPathNotFound(err error) bool {
	var endpointErr *files.DownloadError

	var apiErr files.DownloadAPIError
	var apiErrPtr *files.DownloadAPIError
	switch {
	case errors.As(err, &apiErr):
		endpointErr = apiErr.EndpointError
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		endpointErr = apiErrPtr.EndpointError
	default:
		return false
	}

	return endpointErr != nil &&
		endpointErr.Tag == files.DownloadErrorPath &&
		endpointErr.Path != nil &&
		endpointErr.Path.Tag == files.LookupErrorNotFound
}

var _ remote.Client = (*Store)(nil)
