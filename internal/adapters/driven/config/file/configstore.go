// Package file persists configuration as TOML on the local filesystem.
package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/ferry/internal/adapters/driven/config"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// FileName is the configuration file inside the configuration directory.
const FileName = "config.toml"

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore keeps configuration in a TOML file. Tables in the file
// are exposed as dot-notation keys, so
//
//	[targets.prod]
//	endpoint = "https://prod.example.com/transfer"
//
// is read with GetString("targets.prod.endpoint"). FERRY_* environment
// variables override file values and are never written back.
type ConfigStore struct {
	*config.Values

	// mu serialises file writes.
	mu       sync.Mutex
	filePath string
	environ  func() map[string]any
}

// Option configures a ConfigStore.
type Option func(*ConfigStore)

// WithEnviron overrides values from environ instead of the process
// environment. Pass nil to disable overrides.
func WithEnviron(environ []string) Option {
	return func(s *ConfigStore) {
		s.environ = func() map[string]any { return config.FromEnv(environ) }
	}
}

// NewConfigStore opens the configuration in configDir, creating the
// directory if needed. If configDir is empty, defaults to ~/.ferry.
func NewConfigStore(configDir string, opts ...Option) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		configDir = filepath.Join(home, ".ferry")
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	s := &ConfigStore{
		Values:   config.NewValues(),
		filePath: filepath.Join(configDir, FileName),
	}
	s.environ = config.Environ
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Set stores a value and writes the file.
func (s *ConfigStore) Set(key string, value any) error {
	s.Values.Set(key, value)
	return s.Save()
}

// Save writes the stored values to the file. The file holds target
// passwords and is written owner-only.
func (s *ConfigStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nested, err := config.Nest(s.Stored())
	if err != nil {
		return err
	}
	data, err := toml.Marshal(nested)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.filePath, err)
	}
	return os.WriteFile(s.filePath, data, 0o600)
}

// Load reads the file and applies environment overrides. A missing file
// is an empty configuration.
func (s *ConfigStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := make(map[string]any)
	data, err := os.ReadFile(s.filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read %s: %w", s.filePath, err)
	default:
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("parse %s: %w", s.filePath, err)
		}
	}

	s.Replace(config.Flatten(loaded, ""))
	s.Overlay(s.environ())
	return nil
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}
