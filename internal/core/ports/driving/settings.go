package driving

import "github.com/custodia-labs/ferry/internal/core/domain"

// SettingsService reads and writes ferry settings.
type SettingsService interface {
	// Transfer returns the sending-side settings with defaults applied.
	Transfer() domain.TransferSettings

	// Receiver returns the receiving-side settings with defaults applied.
	Receiver() domain.ReceiverSettings

	// Target resolves a configured transfer target by name.
	Target(name string) (domain.TransferTarget, error)

	// Targets lists configured target names.
	Targets() []string

	// SetTarget stores a transfer target.
	SetTarget(name, endpoint, username, password string) error

	// SetRepositoryID stores the sending repository id.
	SetRepositoryID(id string) error
}
