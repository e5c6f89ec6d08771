// Package s3 implements the remote store contract on Amazon S3 and
// S3-compatible services.
//
// Upload sessions map onto S3 multipart uploads: StartSession creates the
// multipart upload and sends part 1, AppendSession sends the next part, and
// FinishSession sends the last part and completes the upload. The S3
// multipart upload ID is the session identifier. S3 rejects non-final parts
// smaller than MinPartSize, so sessions must use chunks of at least that size.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/s3api"
	"github.com/input-output-hk/tarsync/remote"
)

// MinPartSize is the smallest part S3 accepts for any part but the last.
const MinPartSize = 5 * 1024 * 1024

// session tracks the parts committed to one multipart upload.
type session struct {
	key       string
	committed int64
	parts     []awstypes.CompletedPart
}

// Store is a remote.Client backed by one S3 bucket.
// Refs are object keys within the bucket; leading slashes are ignored.
type Store struct {
	api    s3api.S3API
	bucket string
	logger *slog.Logger

	// mu protects sessions
	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Store for bucket using the AWS default credential chain
// (or the credentials given through options).
//
// It returns a KindAuth error wrapping errors.ErrMissingCredential when no
// credentials can be retrieved, before any request is sent to S3.
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var cfg aws.Config
	if o.customAWSConfig != nil {
		cfg = *o.customAWSConfig
	} else {
		var loadOpts []func(*config.LoadOptions) error
		if o.region != "" {
			loadOpts = append(loadOpts, config.WithRegion(o.region))
		}
		if o.staticKeyID != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(o.staticKeyID, o.staticSecret, o.staticToken),
			))
		}
		var err error
		cfg, err = config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, tserrors.Config("s3.loadConfig", err)
		}
	}

	if o.region != "" {
		cfg.Region = o.region
	} else if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if o.maxRetries > 0 {
		cfg.RetryMaxAttempts = o.maxRetries
	}

	if cfg.Credentials == nil {
		return nil, tserrors.Auth("s3.credentials", tserrors.ErrMissingCredential)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, tserrors.Auth("s3.credentials", fmt.Errorf("%w: %w", tserrors.ErrMissingCredential, err))
	}

	var s3Opts []func(*s3.Options)
	if o.forcePathStyle {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.UsePathStyle = true
		})
	}
	if o.endpoint != "" {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(o.endpoint)
		})
	}
	if o.timeout > 0 {
		httpClient := &http.Client{Timeout: o.timeout}
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.HTTPClient = httpClient
		})
	}

	return newStore(s3.NewFromConfig(cfg, s3Opts...), bucket, o.logger), nil
}

// NewWithClient creates a Store with a custom S3API implementation.
// This is primarily used for testing with mocked clients.
func NewWithClient(api s3api.S3API, bucket string, opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newStore(api, bucket, o.logger)
}

func newStore(api s3api.S3API, bucket string, logger *slog.Logger) *Store {
	return &Store{
		api:      api,
		bucket:   bucket,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Bucket returns the bucket the store writes to.
func (s *Store) Bucket() string {
	return s.bucket
}

// Verify implements remote.Verifier by checking the bucket is reachable
// with the store's credentials.
func (s *Store) Verify(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3.headBucket %s: %w", s.bucket, mapError(err))
	}
	return nil
}

// Upload implements remote.Store with a single PutObject.
func (s *Store) Upload(ctx context.Context, ref remote.Ref, content []byte, mode remote.WriteMode) error {
	key := ref.Key()
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentType:   aws.String(contentType(content)),
		ContentLength: aws.Int64(int64(len(content))),
	}
	if mode == remote.WriteModeAdd {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		return objectError("putObject", s.bucket, key, err)
	}

	s.logger.DebugContext(ctx, "object uploaded", "bucket", s.bucket, "key", key, "bytes", len(content))
	return nil
}

// StartSession implements remote.Store by creating a multipart upload and
// sending chunk as part 1.
func (s *Store) StartSession(ctx context.Context, ref remote.Ref, chunk []byte) (string, error) {
	key := ref.Key()
	output, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(chunk)),
	})
	if err != nil {
		return "", objectError("createMultipartUpload", s.bucket, key, err)
	}
	uploadID := aws.ToString(output.UploadId)

	sess := &session{key: key}
	if err := s.uploadPart(ctx, uploadID, sess, chunk); err != nil {
		s.abortMultipartUpload(ctx, key, uploadID)
		return "", err
	}

	s.mu.Lock()
	s.sessions[uploadID] = sess
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "multipart upload started",
		"bucket", s.bucket, "key", key, "session_id", uploadID)
	return uploadID, nil
}

// AppendSession implements remote.Store by sending the next part.
func (s *Store) AppendSession(ctx context.Context, cursor remote.Cursor, chunk []byte) error {
	sess, err := s.lookup(cursor)
	if err != nil {
		return err
	}

	if err := s.uploadPart(ctx, cursor.SessionID, sess, chunk); err != nil {
		s.drop(ctx, cursor.SessionID, sess)
		return err
	}
	return nil
}

// FinishSession implements remote.Store by sending the last part and
// completing the multipart upload. S3 fixes the key when the upload is
// created, so ref must match the ref given to StartSession.
func (s *Store) FinishSession(
	ctx context.Context,
	cursor remote.Cursor,
	ref remote.Ref,
	mode remote.WriteMode,
	chunk []byte,
) error {
	sess, err := s.lookup(cursor)
	if err != nil {
		return err
	}
	if sess.key != ref.Key() {
		s.drop(ctx, cursor.SessionID, sess)
		return fmt.Errorf("s3.completeMultipartUpload %s/%s: session was started for key %q",
			s.bucket, ref.Key(), sess.key)
	}

	if len(chunk) > 0 {
		if err := s.uploadPart(ctx, cursor.SessionID, sess, chunk); err != nil {
			s.drop(ctx, cursor.SessionID, sess)
			return err
		}
	}

	input := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(sess.key),
		UploadId: aws.String(cursor.SessionID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{
			Parts: sess.parts,
		},
	}
	if mode == remote.WriteModeAdd {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.api.CompleteMultipartUpload(ctx, input); err != nil {
		s.drop(ctx, cursor.SessionID, sess)
		return objectError("completeMultipartUpload", s.bucket, sess.key, err)
	}

	s.mu.Lock()
	delete(s.sessions, cursor.SessionID)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "multipart upload completed",
		"bucket", s.bucket, "key", sess.key, "parts", len(sess.parts), "bytes", sess.committed)
	return nil
}

// Download implements remote.Store.
func (s *Store) Download(ctx context.Context, ref remote.Ref, w io.Writer) error {
	key := ref.Key()
	output, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return objectError("getObject", s.bucket, key, err)
	}
	if output.Body == nil {
		return nil
	}
	defer output.Body.Close()

	if _, err := io.Copy(w, output.Body); err != nil {
		return objectError("getObject", s.bucket, key, err)
	}
	return nil
}

// lookup returns the session for cursor and checks its offset.
func (s *Store) lookup(cursor remote.Cursor) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[cursor.SessionID]
	if !ok {
		return nil, fmt.Errorf("s3: session %q: %w", cursor.SessionID, remote.ErrUnknownSession)
	}
	if sess.committed != cursor.Offset {
		return nil, fmt.Errorf("s3: session %q: incorrect offset %d, expected %d",
			cursor.SessionID, cursor.Offset, sess.committed)
	}
	return sess, nil
}

// uploadPart sends chunk as the session's next part and records it.
func (s *Store) uploadPart(ctx context.Context, uploadID string, sess *session, chunk []byte) error {
	partNumber := int32(len(sess.parts) + 1)
	output, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(sess.key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(chunk),
		ContentLength: aws.Int64(int64(len(chunk))),
	})
	if err != nil {
		return objectError("uploadPart", s.bucket, sess.key, err)
	}

	sess.parts = append(sess.parts, awstypes.CompletedPart{
		ETag:       output.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	sess.committed += int64(len(chunk))
	return nil
}

// drop forgets a failed session and aborts its multipart upload so S3
// releases the stored parts.
func (s *Store) drop(ctx context.Context, uploadID string, sess *session) {
	s.mu.Lock()
	delete(s.sessions, uploadID)
	s.mu.Unlock()
	s.abortMultipartUpload(ctx, sess.key, uploadID)
}

// abortMultipartUpload cleans up a failed multipart upload.
func (s *Store) abortMultipartUpload(ctx context.Context, key, uploadID string) {
	input := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}
	// Ignore errors during cleanup
	if _, err := s.api.AbortMultipartUpload(ctx, input); err != nil {
		s.logger.WarnContext(ctx, "failed to abort multipart upload",
			"bucket", s.bucket, "key", key, "session_id", uploadID, "error", err)
	}
}

// contentType detects the MIME type from the leading bytes of data.
func contentType(data []byte) string {
	return mimetype.Detect(data).String()
}

var _ remote.Client = (*Store)(nil)
