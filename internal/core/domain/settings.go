package domain

import (
	"fmt"
	"time"
)

// CurrentVersion is the protocol version this build speaks.
var CurrentVersion = TransferVersion{Major: "1", Minor: "0", Revision: "0", Edition: "Community"}

// Defaults for transfer settings.
const (
	DefaultChunkSize         int64 = 1_000_000
	DefaultPollInterval            = 500 * time.Millisecond
	DefaultRequestsPerSecond       = 20.0
	DefaultReceiverAddr            = ":8080"
	DefaultRetainedTransfers       = 64
)

// TransferSettings configures the sending side.
type TransferSettings struct {
	// RepositoryID identifies this repository to receivers.
	RepositoryID string

	// ChunkSize is the content batch threshold in bytes.
	ChunkSize int64

	// PollInterval is the delay between status polls while committing.
	PollInterval time.Duration

	// RequestsPerSecond caps the request rate against a target.
	// Zero disables throttling.
	RequestsPerSecond float64

	// ContentRoot is the directory content URLs are resolved against.
	ContentRoot string
}

// DefaultTransferSettings returns the sending-side defaults.
func DefaultTransferSettings() TransferSettings {
	return TransferSettings{
		ChunkSize:         DefaultChunkSize,
		PollInterval:      DefaultPollInterval,
		RequestsPerSecond: DefaultRequestsPerSecond,
	}
}

// Validate checks the settings are usable for a transfer.
func (s TransferSettings) Validate() error {
	if s.RepositoryID == "" {
		return fmt.Errorf("%w: transfer.repository_id is not set", ErrConfiguration)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("%w: transfer.chunk_size must be positive", ErrConfiguration)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("%w: transfer.poll_interval_ms must be positive", ErrConfiguration)
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: transfer.requests_per_second must not be negative", ErrConfiguration)
	}
	return nil
}

// ReceiverSettings configures the receiving side.
type ReceiverSettings struct {
	// RepositoryID identifies this repository to senders.
	RepositoryID string

	// DataDir holds staged transfers and the progress database.
	DataDir string

	// Addr is the listen address of the receiver API.
	Addr string

	// Username and Password, when set, are required from senders.
	Username string
	Password string

	// RetainedTransfers bounds how many transfers the in-memory
	// progress monitor keeps.
	RetainedTransfers int
}

// DefaultReceiverSettings returns the receiving-side defaults.
func DefaultReceiverSettings() ReceiverSettings {
	return ReceiverSettings{
		Addr:              DefaultReceiverAddr,
		RetainedTransfers: DefaultRetainedTransfers,
	}
}

// Validate checks the settings are usable for serving.
func (s ReceiverSettings) Validate() error {
	if s.RepositoryID == "" {
		return fmt.Errorf("%w: receiver.repository_id is not set", ErrConfiguration)
	}
	if s.Addr == "" {
		return fmt.Errorf("%w: receiver.addr is not set", ErrConfiguration)
	}
	return nil
}
