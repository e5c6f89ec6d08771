package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/input-output-hk/tarsync/internal/localfs"
)

// Usage is the one-line synopsis printed above the flag list.
const Usage = "Usage: tarsync [flags] <changed_files> [destination]"

// LoadOption configures Load.
type LoadOption func(*loader)

type loader struct {
	getenv func(string) string
	fs     billy.Filesystem
	output io.Writer
}

// WithGetenv sets the environment lookup. The default is os.Getenv.
func WithGetenv(getenv func(string) string) LoadOption {
	return func(l *loader) {
		l.getenv = getenv
	}
}

// WithFilesystem sets the filesystem the config file is read from.
func WithFilesystem(fsys billy.Filesystem) LoadOption {
	return func(l *loader) {
		l.fs = fsys
	}
}

// WithOutput sets where usage and flag errors are printed.
func WithOutput(w io.Writer) LoadOption {
	return func(l *loader) {
		l.output = w
	}
}

// flagValues holds raw flag values before they are layered onto a Config.
type flagValues struct {
	configFile  string
	backend     string
	bucket      string
	region      string
	endpoint    string
	pathStyle   bool
	chunkSize   int
	tokenEnv    string
	tokenSecret string
	logLevel    string
	progress    bool
	list        bool
	timeout     time.Duration
	maxRetries  int
}

func newFlagSet(output io.Writer, v *flagValues) *flag.FlagSet {
	fs := flag.NewFlagSet("tarsync", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), Usage)
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "  changed_files  comma-separated list of .tar, .tar.gz or .tgz files")
		fmt.Fprintf(fs.Output(), "  destination    master archive path (default $%s or %s)\n\n",
			EnvDestination, DefaultDestination)
		fs.PrintDefaults()
	}

	fs.StringVar(&v.configFile, "config", "", "path to a CUE or JSON configuration file")
	fs.StringVar(&v.backend, "backend", "", "remote store: dropbox, s3 or memory")
	fs.StringVar(&v.bucket, "bucket", "", "S3 bucket holding the master archive")
	fs.StringVar(&v.region, "region", "", "AWS region for the S3 backend")
	fs.StringVar(&v.endpoint, "endpoint", "", "custom S3 endpoint URL")
	fs.BoolVar(&v.pathStyle, "path-style", false, "use path-style S3 addressing")
	fs.IntVar(&v.chunkSize, "chunk-size", 0, "transfer chunk size in bytes (default 4 MiB, 8 MiB for s3)")
	fs.StringVar(&v.tokenEnv, "token-env", "", "environment variable holding the access token")
	fs.StringVar(&v.tokenSecret, "token-secret", "", "AWS Secrets Manager secret holding the access token")
	fs.StringVar(&v.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&v.progress, "progress", false, "print upload progress")
	fs.BoolVar(&v.list, "list", false, "list the master archive members after the run")
	fs.DurationVar(&v.timeout, "timeout", 0, "per-request timeout for backend calls (0 means none)")
	fs.IntVar(&v.maxRetries, "max-retries", 0, "maximum attempts per S3 request (0 keeps the SDK default)")
	return fs
}

// Load parses args and builds the layered Config. It returns the
// positional arguments left after the flags. flag.ErrHelp is returned
// unchanged when -h is given.
func Load(args []string, opts ...LoadOption) (*Config, []string, error) {
	l := &loader{getenv: os.Getenv, fs: localfs.OS(), output: os.Stderr}
	for _, opt := range opts {
		opt(l)
	}

	var v flagValues
	fs := newFlagSet(l.output, &v)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := Defaults()
	if v.configFile != "" {
		if err := loadFile(cfg, l.fs, v.configFile); err != nil {
			return nil, nil, err
		}
	}
	if err := applyEnv(cfg, l.getenv); err != nil {
		return nil, nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = v.backend
		case "bucket":
			cfg.S3.Bucket = v.bucket
		case "region":
			cfg.S3.Region = v.region
		case "endpoint":
			cfg.S3.Endpoint = v.endpoint
		case "path-style":
			cfg.S3.PathStyle = v.pathStyle
		case "chunk-size":
			cfg.ChunkSize = v.chunkSize
		case "token-env":
			cfg.TokenEnv = v.tokenEnv
		case "token-secret":
			cfg.TokenSecret = v.tokenSecret
		case "log-level":
			cfg.LogLevel = v.logLevel
		case "progress":
			cfg.Progress = v.progress
		case "list":
			cfg.List = v.list
		case "timeout":
			cfg.Timeout = v.timeout
		case "max-retries":
			cfg.MaxRetries = v.maxRetries
		}
	})

	return cfg, fs.Args(), nil
}

// PrintUsage writes the usage text to w.
func PrintUsage(w io.Writer) {
	var v flagValues
	newFlagSet(w, &v).Usage()
}
