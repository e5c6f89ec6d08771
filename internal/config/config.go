// Package config assembles tarsync's runtime settings.
//
// Values are layered: built-in defaults, then an optional CUE (or JSON)
// file, then environment variables, then command-line flags. Later sources
// take precedence over earlier ones.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/credentials"
	"github.com/input-output-hk/tarsync/remote"
	s3store "github.com/input-output-hk/tarsync/remote/s3"
)

// Backend names.
const (
	BackendDropbox = "dropbox"
	BackendS3      = "s3"
	BackendMemory  = "memory"
)

const (
	// DefaultDestination is the master archive used when none is configured.
	DefaultDestination = "/Bots_V3_splunkapps.tar"

	// DefaultChunkSize is the transfer chunk for Dropbox and memory backends (4 MiB).
	DefaultChunkSize = 4 * 1024 * 1024

	// DefaultS3ChunkSize is the transfer chunk for the S3 backend (8 MiB).
	DefaultS3ChunkSize = 8 * 1024 * 1024
)

// S3 holds settings for the S3 backend.
type S3 struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Config holds runtime settings for a tarsync run.
type Config struct {
	// Backend selects the remote store: dropbox, s3 or memory.
	Backend string

	// Destination is the master archive ref.
	Destination string

	// ChunkSize is the transfer chunk in bytes; zero selects the backend default.
	ChunkSize int

	// TokenEnv names the environment variable holding the access token.
	TokenEnv string

	// TokenSecret names a Secrets Manager secret holding the access token.
	// When set it takes precedence over TokenEnv.
	TokenSecret string

	LogLevel string
	Progress bool

	// Timeout bounds each HTTP request to the backend; zero means no limit.
	Timeout time.Duration

	// MaxRetries caps SDK retry attempts for the S3 backend; zero keeps the
	// SDK default.
	MaxRetries int

	// List prints the master archive's members after a successful run.
	List bool

	S3 S3
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		Backend:     BackendDropbox,
		Destination: DefaultDestination,
		TokenEnv:    credentials.DefaultTokenEnv,
		LogLevel:    "info",
	}
}

// EffectiveChunkSize returns ChunkSize, or the backend default when unset.
func (c *Config) EffectiveChunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	if c.Backend == BackendS3 {
		return DefaultS3ChunkSize
	}
	return DefaultChunkSize
}

// Ref returns the destination as a remote ref.
func (c *Config) Ref() remote.Ref {
	return remote.Ref(c.Destination)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate checks the configuration and returns a KindConfig error for the
// first problem found.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDropbox, BackendMemory:
	case BackendS3:
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return invalid("s3 backend requires a bucket")
		}
		if c.ChunkSize > 0 && c.ChunkSize < s3store.MinPartSize {
			return invalid(fmt.Sprintf("chunk size %d is below the S3 minimum part size %d",
				c.ChunkSize, s3store.MinPartSize))
		}
	default:
		return invalid(fmt.Sprintf("unknown backend %q", c.Backend))
	}

	if c.Timeout < 0 {
		return invalid(fmt.Sprintf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.MaxRetries < 0 {
		return invalid(fmt.Sprintf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.ChunkSize < 0 {
		return invalid(fmt.Sprintf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if err := c.Ref().Validate(); err != nil {
		return tserrors.Config("validate", err)
	}
	if c.TokenSecret == "" && strings.TrimSpace(c.TokenEnv) == "" && c.Backend == BackendDropbox {
		return invalid("token_env must name an environment variable")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return invalid(fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	return nil
}

func invalid(msg string) error {
	return tserrors.Config("validate", errors.New(msg))
}
