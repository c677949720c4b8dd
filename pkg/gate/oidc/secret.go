package oidc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/singleflight"
)

// SecretSource resolves the OAuth client secret.
type SecretSource interface {
	ClientSecret(ctx context.Context) (string, error)
}

// SecretSourceFunc adapts a function to SecretSource.
type SecretSourceFunc func(ctx context.Context) (string, error)

// ClientSecret calls f.
func (f SecretSourceFunc) ClientSecret(ctx context.Context) (string, error) {
	return f(ctx)
}

// NewSecretSource builds a source from a reference:
//
//	arn:aws:secretsmanager:<region>:<account>:secret:<name>   AWS Secrets Manager
//	env:NAME                                                  environment variable
//	file:/path                                                file contents, trimmed
func NewSecretSource(ctx context.Context, ref string) (SecretSource, error) {
	switch {
	case strings.HasPrefix(ref, "arn:aws:secretsmanager:"):
		return NewAWSSecretSource(ctx, ref)
	case strings.HasPrefix(ref, "env:"):
		return EnvSecret(strings.TrimPrefix(ref, "env:")), nil
	case strings.HasPrefix(ref, "file:"):
		return FileSecret(strings.TrimPrefix(ref, "file:")), nil
	default:
		return nil, fmt.Errorf("%w: unsupported client secret reference", ErrConfiguration)
	}
}

// EnvSecret reads the secret from the named environment variable.
type EnvSecret string

// ClientSecret returns the variable's value.
func (e EnvSecret) ClientSecret(context.Context) (string, error) {
	v := os.Getenv(string(e))
	if v == "" {
		return "", fmt.Errorf("oidc: environment variable %s is empty", string(e))
	}
	return v, nil
}

// FileSecret reads the secret from a file, e.g. a mounted Kubernetes secret.
type FileSecret string

// ClientSecret returns the file contents without surrounding whitespace.
func (f FileSecret) ClientSecret(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("oidc: failed to read client secret: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("oidc: client secret file %s is empty", string(f))
	}
	return v, nil
}

// SecretsManagerAPI is the part of the Secrets Manager client the source uses.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretSource reads the secret string of a Secrets Manager secret.
type AWSSecretSource struct {
	api SecretsManagerAPI
	arn string
}

// NewAWSSecretSource creates a source with the default AWS credential chain.
// The region is taken from the ARN.
func NewAWSSecretSource(ctx context.Context, arn string) (*AWSSecretSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if parts := strings.Split(arn, ":"); len(parts) > 3 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to load AWS configuration: %w", err)
	}
	return &AWSSecretSource{api: secretsmanager.NewFromConfig(cfg), arn: arn}, nil
}

// NewAWSSecretSourceWithAPI creates a source on an existing client.
func NewAWSSecretSourceWithAPI(api SecretsManagerAPI, arn string) *AWSSecretSource {
	return &AWSSecretSource{api: api, arn: arn}
}

// ClientSecret fetches the secret value.
func (s *AWSSecretSource) ClientSecret(ctx context.Context) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(s.arn)})
	if err != nil {
		return "", fmt.Errorf("oidc: failed to get client secret: %w", err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", errors.New("oidc: client secret has no string value")
	}
	return *out.SecretString, nil
}

// secretCache memoizes the first successful fetch for the lifetime of the
// client. Concurrent first calls share one fetch; failures are not cached.
type secretCache struct {
	source SecretSource

	mu     sync.RWMutex
	value  string
	loaded bool
	group  singleflight.Group
}

func (c *secretCache) get(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.loaded {
		v := c.value
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	if c.source == nil {
		return "", fmt.Errorf("%w: no client secret source", ErrConfiguration)
	}

	v, err, _ := c.group.Do("secret", func() (interface{}, error) {
		c.mu.RLock()
		if c.loaded {
			v := c.value
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		secret, err := c.source.ClientSecret(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.value, c.loaded = secret, true
		c.mu.Unlock()
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
