package driven

import (
	"context"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// ProgressMonitor records receiver-side progress of transfers, keyed by
// transfer id.
type ProgressMonitor interface {
	// Start registers a new transfer at position 0 in StatusPreCommit.
	Start(ctx context.Context, transferID string) error

	// Progress returns the transfer's current progress.
	Progress(ctx context.Context, transferID string) (*domain.TransferProgress, error)

	// UpdateProgress moves the current position. Positions never decrease.
	UpdateProgress(ctx context.Context, transferID string, current int) error

	// UpdateProgressRange moves both the current and end positions.
	UpdateProgressRange(ctx context.Context, transferID string, current, end int) error

	// UpdateStatus changes the status.
	UpdateStatus(ctx context.Context, transferID string, status domain.TransferStatus) error

	// Fail moves the transfer to StatusError and captures the cause.
	Fail(ctx context.Context, transferID string, cause *domain.TransferError) error

	// Log appends an entry to the transfer's log.
	Log(ctx context.Context, entry domain.LogEntry) error

	// Entries returns the transfer's log in append order.
	Entries(ctx context.Context, transferID string) ([]domain.LogEntry, error)
}
