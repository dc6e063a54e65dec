package memory

import (
	"github.com/custodia-labs/ferry/internal/adapters/driven/config"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore is an in-memory driven.ConfigStore for tests and for
// embedding ferry without a configuration file.
type ConfigStore struct {
	*config.Values
}

// NewConfigStore creates an empty in-memory config store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{Values: config.NewValues()}
}

// Set stores a configuration value.
func (s *ConfigStore) Set(key string, value any) error {
	s.Values.Set(key, value)
	return nil
}

// Save is a no-op.
func (s *ConfigStore) Save() error {
	return nil
}

// Load is a no-op.
func (s *ConfigStore) Load() error {
	return nil
}

// Path returns ":memory:".
func (s *ConfigStore) Path() string {
	return ":memory:"
}
