package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/tarsync/internal/config"
	"github.com/input-output-hk/tarsync/internal/credentials"
	"github.com/input-output-hk/tarsync/remote"
	"github.com/input-output-hk/tarsync/remote/memory"
)

// clearEnv keeps the caller's environment from leaking into a run.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		config.EnvDestination, config.EnvBackend, config.EnvChunkSize,
		config.EnvLogLevel, config.EnvS3Bucket,
	} {
		t.Setenv(name, "")
	}
}

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeInput(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRun_Usage(t *testing.T) {
	clearEnv(t)

	code, _, stderr := invoke(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, config.Usage)

	code, _, _ = invoke(t, "a.tar", "/dest.tar", "extra")
	assert.Equal(t, 1, code)
}

func TestRun_Help(t *testing.T) {
	clearEnv(t)
	code, _, stderr := invoke(t, "-h")
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "-backend")
}

func TestRun_BadFlag(t *testing.T) {
	clearEnv(t)
	code, _, _ := invoke(t, "-no-such-flag", "a.tar")
	assert.Equal(t, 1, code)
}

func TestRun_InvalidConfig(t *testing.T) {
	clearEnv(t)
	tests := map[string][]string{
		"unknown backend":   {"-backend", "ftp", "a.tar"},
		"s3 without bucket": {"-backend", "s3", "a.tar"},
		"bad log level":     {"-backend", "memory", "-log-level", "loud", "a.tar"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			code, stdout, _ := invoke(t, args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stdout, "✗ ")
		})
	}
}

func TestRun_MissingToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("TARSYNC_TEST_TOKEN", "")
	input := writeInput(t, "report.tar", "report")

	code, stdout, _ := invoke(t, "-token-env", "TARSYNC_TEST_TOKEN", input)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "✗ authentication failed")
	assert.NotContains(t, stdout, "Processing:")
}

func TestRun_MemoryBackend(t *testing.T) {
	clearEnv(t)
	first := writeInput(t, "report.tar", "report")
	second := writeInput(t, "logs.tgz", "logs")

	code, stdout, _ := invoke(t, "-backend", "memory", "-list", first+","+second, "/apps/master.tar")
	require.Equal(t, 0, code, stdout)

	assert.Contains(t, stdout, "ℹ No existing file at /apps/master.tar, will create new one\n")
	assert.Contains(t, stdout, "✓ Downloaded master.tar\n")
	assert.Contains(t, stdout, "✓ Successfully uploaded to /apps/master.tar\n")
	assert.Contains(t, stdout, "/apps/master.tar (2 members)\n")
	assert.Contains(t, stdout, "  logs.tgz  ")
	assert.Contains(t, stdout, "  report.tar  ")
}

func TestRun_DestinationFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvDestination, "/from-env.tar")
	input := writeInput(t, "report.tar", "report")

	code, stdout, _ := invoke(t, "-backend", "memory", input)
	require.Equal(t, 0, code, stdout)
	assert.Contains(t, stdout, "✓ Successfully uploaded to /from-env.tar\n")
}

func TestRun_UnsupportedSuffix(t *testing.T) {
	clearEnv(t)
	input := writeInput(t, "report.zip", "zip")

	code, stdout, _ := invoke(t, "-backend", "memory", input)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "✗ Unsupported file format: "+input)
	assert.NotContains(t, stdout, "Successfully uploaded")
}

// unverifiedStore is a memory store whose Verify fails.
type unverifiedStore struct {
	*memory.Store
	err error
}

func (u *unverifiedStore) Verify(context.Context) error { return u.err }

func TestRun_VerifyFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantLine string
		notLine  string
	}{
		{
			name:     "rejected token",
			err:      fmt.Errorf("dropbox.getCurrentAccount: %w", remote.ErrAccessDenied),
			wantLine: "✗ Invalid or expired access token",
		},
		{
			name:     "network failure",
			err:      errors.New("dial tcp: lookup api.dropboxapi.com: no such host"),
			wantLine: "✗ Cannot reach the memory backend",
			notLine:  "access token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			store := &unverifiedStore{Store: memory.New(), err: tt.err}
			orig := newStore
			newStore = func(context.Context, *config.Config, *slog.Logger) (remote.Client, error) {
				return store, nil
			}
			t.Cleanup(func() { newStore = orig })

			input := writeInput(t, "report.tar", "report")
			code, stdout, _ := invoke(t, "-backend", "memory", input)
			assert.Equal(t, 1, code)
			assert.Contains(t, stdout, tt.wantLine)
			if tt.notLine != "" {
				assert.NotContains(t, stdout, tt.notLine)
			}
			assert.Empty(t, store.Calls(), "no transfer may start after a failed verification")
		})
	}
}

func TestOpenStore_Timeouts(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv(credentials.DefaultTokenEnv, "token")
	logger := slog.New(slog.DiscardHandler)

	s3cfg := config.Defaults()
	s3cfg.Backend = config.BackendS3
	s3cfg.S3.Bucket = "b"
	s3cfg.S3.Region = "eu-west-1"
	s3cfg.Timeout = 5 * time.Second
	s3cfg.MaxRetries = 3

	dbxcfg := config.Defaults()
	dbxcfg.Timeout = 5 * time.Second

	for _, cfg := range []*config.Config{s3cfg, dbxcfg} {
		t.Run(cfg.Backend, func(t *testing.T) {
			store, err := openStore(context.Background(), cfg, logger)
			require.NoError(t, err)
			assert.NotNil(t, store)
		})
	}
}
