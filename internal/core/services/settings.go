package services

import (
	"fmt"
	"time"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyTransferRepositoryID = "transfer.repository_id"
	keyTransferChunkSize    = "transfer.chunk_size"
	keyTransferPollMillis   = "transfer.poll_interval_ms"
	keyTransferRate         = "transfer.requests_per_second"
	keyContentRoot          = "content.root"
	keyReceiverRepositoryID = "receiver.repository_id"
	keyReceiverDataDir      = "receiver.data_dir"
	keyReceiverAddr         = "receiver.addr"
	keyReceiverUsername     = "receiver.username"
	keyReceiverPassword     = "receiver.password"
	keyReceiverRetained     = "receiver.retained_transfers"
	targetsPrefix           = "targets"
)

// SettingsService manages ferry settings on top of a ConfigStore.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Transfer returns the sending-side settings.
func (s *SettingsService) Transfer() domain.TransferSettings {
	d := domain.DefaultTransferSettings()
	return domain.TransferSettings{
		RepositoryID:      s.configStore.GetString(keyTransferRepositoryID),
		ChunkSize:         int64(s.getInt(keyTransferChunkSize, int(d.ChunkSize))),
		PollInterval:      time.Duration(s.getInt(keyTransferPollMillis, int(d.PollInterval/time.Millisecond))) * time.Millisecond,
		RequestsPerSecond: s.getFloat(keyTransferRate, d.RequestsPerSecond),
		ContentRoot:       s.configStore.GetString(keyContentRoot),
	}
}

// Receiver returns the receiving-side settings.
func (s *SettingsService) Receiver() domain.ReceiverSettings {
	d := domain.DefaultReceiverSettings()
	return domain.ReceiverSettings{
		RepositoryID:      s.configStore.GetString(keyReceiverRepositoryID),
		DataDir:           s.configStore.GetString(keyReceiverDataDir),
		Addr:              s.getString(keyReceiverAddr, d.Addr),
		Username:          s.configStore.GetString(keyReceiverUsername),
		Password:          s.configStore.GetString(keyReceiverPassword),
		RetainedTransfers: s.getInt(keyReceiverRetained, d.RetainedTransfers),
	}
}

// Target resolves a named target. Credentials in the endpoint URL are
// overridden by the username and password keys.
func (s *SettingsService) Target(name string) (domain.TransferTarget, error) {
	prefix := targetsPrefix + "." + name + "."
	endpoint := s.configStore.GetString(prefix + "endpoint")
	if endpoint == "" {
		return domain.TransferTarget{}, fmt.Errorf("%w: %q", domain.ErrTargetNotFound, name)
	}
	target, err := domain.ParseTransferTarget(name, endpoint)
	if err != nil {
		return domain.TransferTarget{}, fmt.Errorf("target %q: %w", name, err)
	}
	if u := s.configStore.GetString(prefix + "username"); u != "" {
		target.Username = u
	}
	if p := s.configStore.GetString(prefix + "password"); p != "" {
		target.Password = p
	}
	return target, nil
}

// Targets lists configured target names.
func (s *SettingsService) Targets() []string {
	return s.configStore.Keys(targetsPrefix)
}

// SetTarget stores a transfer target after validating its endpoint.
func (s *SettingsService) SetTarget(name, endpoint, username, password string) error {
	if name == "" {
		return fmt.Errorf("%w: target name is empty", domain.ErrInvalidInput)
	}
	if _, err := domain.ParseTransferTarget(name, endpoint); err != nil {
		return err
	}
	prefix := targetsPrefix + "." + name + "."
	if err := s.configStore.Set(prefix+"endpoint", endpoint); err != nil {
		return fmt.Errorf("save target: %w", err)
	}
	if username != "" {
		if err := s.configStore.Set(prefix+"username", username); err != nil {
			return fmt.Errorf("save target: %w", err)
		}
	}
	if password != "" {
		if err := s.configStore.Set(prefix+"password", password); err != nil {
			return fmt.Errorf("save target: %w", err)
		}
	}
	return nil
}

// SetRepositoryID stores the sending repository id.
func (s *SettingsService) SetRepositoryID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: repository id is empty", domain.ErrInvalidInput)
	}
	return s.configStore.Set(keyTransferRepositoryID, id)
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}
