package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	tserrors "github.com/input-output-hk/tarsync/errors"
)

// DefaultTokenEnv is the environment variable read when none is configured.
const DefaultTokenEnv = "DROPBOX_ACCESS_TOKEN"

// AWS error code constants
const (
	resourceNotFoundException = "ResourceNotFoundException"
	accessDeniedException     = "AccessDeniedException"
)

// Source produces an access token.
type Source interface {
	Token(ctx context.Context) (Token, error)
}

// EnvSource reads the token from an environment variable.
type EnvSource struct {
	name   string
	lookup func(string) (string, bool)
}

// FromEnv returns a Source reading the variable name.
// An empty name selects DefaultTokenEnv.
func FromEnv(name string) *EnvSource {
	if name == "" {
		name = DefaultTokenEnv
	}
	return &EnvSource{name: name, lookup: os.LookupEnv}
}

// Token implements Source. A missing or blank variable is a KindAuth error.
func (s *EnvSource) Token(_ context.Context) (Token, error) {
	value, ok := s.lookup(s.name)
	if !ok || strings.TrimSpace(value) == "" {
		return Token{}, tserrors.Auth("credentials",
			fmt.Errorf("%w: environment variable %s is not set", tserrors.ErrMissingCredential, s.name))
	}
	return NewToken(strings.TrimSpace(value)), nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads the token from an AWS Secrets Manager secret.
type SecretsManagerSource struct {
	api      SecretsManagerAPI
	secretID string
	logger   *slog.Logger
}

// SecretOption configures a SecretsManagerSource.
type SecretOption func(*SecretsManagerSource)

// WithLogger sets the logger for secret lookups.
func WithLogger(logger *slog.Logger) SecretOption {
	return func(s *SecretsManagerSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// FromSecretsManager returns a Source reading secretID through api.
func FromSecretsManager(api SecretsManagerAPI, secretID string, opts ...SecretOption) *SecretsManagerSource {
	s := &SecretsManagerSource{
		api:      api,
		secretID: secretID,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSecretsManagerSource loads the default AWS configuration and returns a
// Source reading secretID. region overrides the configured region when set.
func NewSecretsManagerSource(
	ctx context.Context,
	secretID, region string,
	opts ...SecretOption,
) (*SecretsManagerSource, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, tserrors.Auth("credentials", fmt.Errorf("failed to load AWS config: %w", err))
	}
	return FromSecretsManager(secretsmanager.NewFromConfig(cfg), secretID, opts...), nil
}

// Token implements Source.
func (s *SecretsManagerSource) Token(ctx context.Context) (Token, error) {
	if s.secretID == "" {
		return Token{}, tserrors.Auth("credentials",
			fmt.Errorf("%w: no secret configured", tserrors.ErrMissingCredential))
	}

	s.logger.DebugContext(ctx, "reading token secret", "secret_id", s.secretID)
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return Token{}, tserrors.Auth("credentials", mapSecretError(err)).WithRef(s.secretID)
	}

	value := strings.TrimSpace(aws.ToString(out.SecretString))
	if value == "" {
		return Token{}, tserrors.Auth("credentials",
			fmt.Errorf("%w: secret has no string value", tserrors.ErrMissingCredential)).WithRef(s.secretID)
	}
	return NewToken(value), nil
}

func mapSecretError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case resourceNotFoundException:
			return fmt.Errorf("%w: secret not found: %w", tserrors.ErrMissingCredential, err)
		case accessDeniedException:
			return fmt.Errorf("%w: access denied to secret: %w", tserrors.ErrInvalidCredential, err)
		}
	}
	return fmt.Errorf("get secret value: %w", err)
}
