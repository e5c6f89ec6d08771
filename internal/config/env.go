package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tserrors "github.com/input-output-hk/tarsync/errors"
)

// Environment variables read by applyEnv.
const (
	EnvDestination = "DROPBOX_FILE_PATH"
	EnvBackend     = "TARSYNC_BACKEND"
	EnvChunkSize   = "TARSYNC_CHUNK_SIZE"
	EnvLogLevel    = "TARSYNC_LOG_LEVEL"
	EnvS3Bucket    = "TARSYNC_S3_BUCKET"
	EnvTimeout     = "TARSYNC_TIMEOUT"
)

// applyEnv overlays cfg with non-empty environment variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	lookup := func(name string) (string, bool) {
		v := strings.TrimSpace(getenv(name))
		return v, v != ""
	}

	if v, ok := lookup(EnvDestination); ok {
		cfg.Destination = v
	}
	if v, ok := lookup(EnvBackend); ok {
		cfg.Backend = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvS3Bucket); ok {
		cfg.S3.Bucket = v
	}
	if v, ok := lookup(EnvChunkSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return tserrors.Config("env", fmt.Errorf("%s: %w", EnvChunkSize, err))
		}
		cfg.ChunkSize = n
	}
	if v, ok := lookup(EnvTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return tserrors.Config("env", fmt.Errorf("%s: %w", EnvTimeout, err))
		}
		cfg.Timeout = d
	}
	return nil
}
