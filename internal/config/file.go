package config

import (
	_ "embed"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-git/go-billy/v5"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/localfs"
)

//go:embed schema.cue
var schemaSource []byte

// fileConfig is the decoded shape of a configuration file. Pointers
// distinguish absent fields from zero values.
type fileConfig struct {
	Backend     *string `json:"backend"`
	Destination *string `json:"destination"`
	ChunkSize   *int    `json:"chunk_size"`
	TokenEnv    *string `json:"token_env"`
	TokenSecret *string `json:"token_secret"`
	LogLevel    *string `json:"log_level"`
	Progress    *bool   `json:"progress"`
	Timeout     *string `json:"timeout"`
	MaxRetries  *int    `json:"max_retries"`
	S3          *struct {
		Bucket    *string `json:"bucket"`
		Region    *string `json:"region"`
		Endpoint  *string `json:"endpoint"`
		PathStyle *bool   `json:"path_style"`
	} `json:"s3"`
}

// parseFile checks data against the configuration schema and decodes it.
func parseFile(data []byte, filename string) (*fileConfig, error) {
	cueCtx := cuecontext.New()

	schema := cueCtx.CompileBytes(schemaSource, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	value := cueCtx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &fc, nil
}

// loadFile overlays cfg with the file at path.
func loadFile(cfg *Config, fsys billy.Filesystem, path string) error {
	data, err := localfs.ReadFile(fsys, path)
	if err != nil {
		return tserrors.Config("loadFile", err).WithRef(path)
	}
	fc, err := parseFile(data, path)
	if err != nil {
		return tserrors.Config("loadFile", err).WithRef(path)
	}
	if err := fc.apply(cfg); err != nil {
		return tserrors.Config("loadFile", err).WithRef(path)
	}
	return nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Backend, fc.Backend)
	setString(&cfg.Destination, fc.Destination)
	setString(&cfg.TokenEnv, fc.TokenEnv)
	setString(&cfg.TokenSecret, fc.TokenSecret)
	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.ChunkSize != nil {
		cfg.ChunkSize = *fc.ChunkSize
	}
	if fc.Progress != nil {
		cfg.Progress = *fc.Progress
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.Timeout != nil {
		d, err := time.ParseDuration(*fc.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if fc.S3 != nil {
		setString(&cfg.S3.Bucket, fc.S3.Bucket)
		setString(&cfg.S3.Region, fc.S3.Region)
		setString(&cfg.S3.Endpoint, fc.S3.Endpoint)
		if fc.S3.PathStyle != nil {
			cfg.S3.PathStyle = *fc.S3.PathStyle
		}
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
