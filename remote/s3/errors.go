package s3

import (
	"errors"
	"fmt"

	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/input-output-hk/tarsync/remote"
)

// S3 error codes mapped onto remote sentinels.
const (
	codeNoSuchKey             = "NoSuchKey"
	codeNotFound              = "NotFound"
	codeNoSuchBucket          = "NoSuchBucket"
	codeNoSuchUpload          = "NoSuchUpload"
	codeAccessDenied          = "AccessDenied"
	codeForbidden             = "Forbidden"
	codeInvalidAccessKeyID    = "InvalidAccessKeyId"
	codeSignatureDoesNotMatch = "SignatureDoesNotMatch"
	codeExpiredToken          = "ExpiredToken"
	codePreconditionFailed    = "PreconditionFailed"
)

// mapError attaches the matching remote sentinel to an SDK error.
// The SDK error stays in the chain so its details are still reported.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *awstypes.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case codeNoSuchKey, codeNotFound:
			return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
		case codeAccessDenied, codeForbidden, codeInvalidAccessKeyID, codeSignatureDoesNotMatch, codeExpiredToken:
			return fmt.Errorf("%w: %w", remote.ErrAccessDenied, err)
		case codePreconditionFailed:
			return fmt.Errorf("%w: %w", remote.ErrConflict, err)
		case codeNoSuchUpload:
			return fmt.Errorf("%w: %w", remote.ErrUnknownSession, err)
		}
	}

	return err
}

// objectError wraps err with the operation and object it concerns.
func objectError(op, bucket, key string, err error) error {
	return fmt.Errorf("s3.%s %s/%s: %w", op, bucket, key, mapError(err))
}
