package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no source holds the requested key
var ErrNotFound = errors.New("secret not found")

// Source resolves credentials that should not live in the config file
type Source interface {
	Get(ctx context.Context, key string) (string, error)
}

// EnvSource reads secrets from environment variables. "postgres.dsn" with
// prefix "PRICING" becomes PRICING_POSTGRES_DSN.
type EnvSource struct {
	prefix string
}

// NewEnvSource creates a new environment-based source
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: prefix}
}

// Get retrieves a secret from the environment
func (e *EnvSource) Get(_ context.Context, key string) (string, error) {
	name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if e.prefix != "" {
		name = strings.ToUpper(e.prefix) + "_" + name
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// FileSource reads one secret per file from a mounted directory, the layout
// used by Kubernetes and Docker secrets.
type FileSource struct {
	dir string
}

// NewFileSource creates a new file-based source
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Get retrieves a secret from <dir>/<key>, trimming the trailing newline
func (f *FileSource) Get(_ context.Context, key string) (string, error) {
	if strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	data, err := os.ReadFile(filepath.Join(f.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Chain tries each source in order
type Chain []Source

// Get returns the first value found. Errors other than ErrNotFound stop the
// lookup.
func (c Chain) Get(ctx context.Context, key string) (string, error) {
	for _, s := range c {
		value, err := s.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Fill sets *dst from src when it is still empty. Missing secrets leave it
// untouched.
func Fill(ctx context.Context, src Source, key string, dst *string) error {
	if *dst != "" {
		return nil
	}
	value, err := src.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	*dst = value
	return nil
}
