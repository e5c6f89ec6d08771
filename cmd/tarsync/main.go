// Command tarsync merges changed archive files into a master tar archive
// kept in a remote store.
//
//	tarsync [flags] <changed_files> [destination]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/archive"
	"github.com/input-output-hk/tarsync/internal/config"
	"github.com/input-output-hk/tarsync/internal/credentials"
	"github.com/input-output-hk/tarsync/internal/fetch"
	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/internal/orchestrator"
	"github.com/input-output-hk/tarsync/internal/report"
	"github.com/input-output-hk/tarsync/remote"
	"github.com/input-output-hk/tarsync/remote/dropbox"
	"github.com/input-output-hk/tarsync/remote/memory"
	s3store "github.com/input-output-hk/tarsync/remote/s3"
)

// newStore builds the backend; tests replace it.
var newStore = openStore

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	reporter := report.New(stdout)

	cfg, positional, err := config.Load(args, config.WithOutput(stderr))
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		reporter.Failure("%v", err)
		return 1
	}
	if len(positional) == 0 || len(positional) > 2 {
		config.PrintUsage(stderr)
		return 1
	}
	if len(positional) == 2 {
		cfg.Destination = positional[1]
	}
	if err := cfg.Validate(); err != nil {
		reporter.Failure("%v", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	ref := cfg.Ref()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		reporter.Failure("%s: %v", tserrors.KindOf(err).Label(), err)
		logger.ErrorContext(ctx, "cannot open remote store", "backend", cfg.Backend, "error", err)
		return 1
	}
	if err := store.Verify(ctx); err != nil {
		if remote.IsAccessDenied(err) {
			err = tserrors.Auth("verify", err).WithRef(ref.String())
			reporter.Failure("Invalid or expired access token: %v", err)
			logger.ErrorContext(ctx, "credential rejected", "backend", cfg.Backend, "error", err)
			return 1
		}
		err = tserrors.Transport("verify", err).WithRef(ref.String())
		reporter.Failure("Cannot reach the %s backend: %v", cfg.Backend, err)
		logger.ErrorContext(ctx, "backend unreachable", "backend", cfg.Backend, "error", err)
		return 1
	}

	opts := []orchestrator.Option{
		orchestrator.WithChunkSize(cfg.EffectiveChunkSize()),
		orchestrator.WithReporter(reporter),
		orchestrator.WithLogger(logger),
	}
	if cfg.Progress {
		opts = append(opts, orchestrator.WithProgress(report.NewProgress(stderr, ref.Base())))
	}

	files := orchestrator.ParseFileList(positional[0])
	if err := orchestrator.New(store, ref, opts...).Run(ctx, files); err != nil {
		logger.ErrorContext(ctx, "run failed", "kind", tserrors.KindOf(err).String(), "error", err)
		return 1
	}

	if cfg.List {
		if err := listMembers(ctx, store, ref, stdout, logger); err != nil {
			reporter.Failure("Cannot list %s: %v", ref, err)
			return 1
		}
	}
	return 0
}

// openStore builds the configured backend. Credentials are resolved here so
// that a missing one fails before any remote call.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (remote.Client, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendS3:
		opts := []s3store.Option{
			s3store.WithForcePathStyle(cfg.S3.PathStyle),
			s3store.WithLogger(logger),
		}
		if cfg.S3.Region != "" {
			opts = append(opts, s3store.WithRegion(cfg.S3.Region))
		}
		if cfg.S3.Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(cfg.S3.Endpoint))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, s3store.WithTimeout(cfg.Timeout))
		}
		if cfg.MaxRetries > 0 {
			opts = append(opts, s3store.WithMaxRetries(cfg.MaxRetries))
		}
		return s3store.New(ctx, cfg.S3.Bucket, opts...)
	default:
		source, err := tokenSource(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		tok, err := source.Token(ctx)
		if err != nil {
			return nil, err
		}
		logger.DebugContext(ctx, "access token resolved", "token", tok)
		opts := []dropbox.Option{dropbox.WithLogger(logger)}
		if cfg.Timeout > 0 {
			opts = append(opts, dropbox.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return dropbox.New(tok.Reveal(), opts...), nil
	}
}

func tokenSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credentials.Source, error) {
	if cfg.TokenSecret != "" {
		return credentials.NewSecretsManagerSource(ctx, cfg.TokenSecret, cfg.S3.Region,
			credentials.WithLogger(logger))
	}
	return credentials.FromEnv(cfg.TokenEnv), nil
}

// listMembers downloads the master again and prints its members.
func listMembers(ctx context.Context, store remote.Store, ref remote.Ref, w io.Writer, logger *slog.Logger) error {
	fsys := localfs.OS()
	dir, err := localfs.TempDir(fsys, "", "tarsync-list-")
	if err != nil {
		return err
	}
	defer func() {
		if err := localfs.RemoveAll(fsys, dir); err != nil {
			logger.WarnContext(ctx, "failed to remove list directory", "path", dir, "error", err)
		}
	}()

	path, found, err := fetch.New(store, fetch.WithScratchDir(dir), fetch.WithLogger(logger)).Fetch(ctx, ref)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", remote.ErrNotFound, ref)
	}

	members, err := archive.New(ref.Base(), archive.WithScratchDir(dir), archive.WithLogger(logger)).List(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%d members)\n", ref, len(members))
	for _, m := range members {
		if m.Dir {
			fmt.Fprintf(w, "  %s/\n", m.Name)
			continue
		}
		if m.Link != "" {
			fmt.Fprintf(w, "  %s -> %s\n", m.Name, m.Link)
			continue
		}
		fmt.Fprintf(w, "  %s  %s\n", m.Name, report.FormatBytes(m.Size))
	}
	return nil
}
