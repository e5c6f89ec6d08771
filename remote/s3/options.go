package s3

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	region          string
	endpoint        string
	forcePathStyle  bool
	maxRetries      int
	timeout         time.Duration
	customAWSConfig *aws.Config
	staticKeyID     string
	staticSecret    string
	staticToken     string
	logger          *slog.Logger
}

func defaultOptions() *options {
	return &options{
		maxRetries: 3,
		logger:     slog.New(slog.DiscardHandler),
	}
}

// WithRegion sets the AWS region.
// If not specified, uses the region from the credential chain, or us-east-1.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithEndpoint sets a custom S3 endpoint URL.
// This is useful for S3-compatible services or local testing with LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithForcePathStyle forces path-style URLs instead of virtual-hosted style.
func WithForcePathStyle(forcePathStyle bool) Option {
	return func(o *options) {
		o.forcePathStyle = forcePathStyle
	}
}

// WithMaxRetries sets the SDK's maximum attempts per request.
// Retries happen inside the SDK only; the session protocol itself never retries.
func WithMaxRetries(maxRetries int) Option {
	return func(o *options) {
		o.maxRetries = maxRetries
	}
}

// WithTimeout sets the HTTP client timeout for individual requests.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithAWSConfig overrides the default configuration loading behavior.
func WithAWSConfig(cfg *aws.Config) Option {
	return func(o *options) {
		o.customAWSConfig = cfg
	}
}

// WithStaticCredentials uses fixed credentials instead of the default chain.
func WithStaticCredentials(keyID, secret, sessionToken string) Option {
	return func(o *options) {
		o.staticKeyID = keyID
		o.staticSecret = secret
		o.staticToken = sessionToken
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
