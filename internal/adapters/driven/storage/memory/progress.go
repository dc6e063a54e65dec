package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure ProgressMonitor implements the interface.
var _ driven.ProgressMonitor = (*ProgressMonitor)(nil)

// DefaultRetainedTransfers is how many transfers the monitor remembers.
const DefaultRetainedTransfers = 64

type transferState struct {
	progress domain.TransferProgress
	log      []domain.LogEntry
}

// ProgressMonitor keeps progress and logs for the most recently started
// transfers in memory. Older transfers are evicted.
type ProgressMonitor struct {
	mu        sync.Mutex
	transfers *lru.Cache[string, *transferState]
	now       func() time.Time
}

// NewProgressMonitor creates a monitor retaining up to size transfers.
// A non-positive size selects DefaultRetainedTransfers.
func NewProgressMonitor(size int) *ProgressMonitor {
	if size <= 0 {
		size = DefaultRetainedTransfers
	}
	cache, err := lru.New[string, *transferState](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &ProgressMonitor{transfers: cache, now: time.Now}
}

func (m *ProgressMonitor) state(transferID string) (*transferState, error) {
	st, ok := m.transfers.Get(transferID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTransfer, transferID)
	}
	return st, nil
}

// Start registers a transfer.
func (m *ProgressMonitor) Start(_ context.Context, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transfers.Contains(transferID) {
		return fmt.Errorf("transfer %s: %w", transferID, domain.ErrAlreadyExists)
	}
	m.transfers.Add(transferID, &transferState{
		progress: domain.TransferProgress{Status: domain.StatusPreCommit},
	})
	return nil
}

// Progress returns a copy of the transfer's progress.
func (m *ProgressMonitor) Progress(_ context.Context, transferID string) (*domain.TransferProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.state(transferID)
	if err != nil {
		return nil, err
	}
	p := st.progress
	return &p, nil
}

// UpdateProgress moves the current position forward. Smaller values are
// ignored.
func (m *ProgressMonitor) UpdateProgress(_ context.Context, transferID string, current int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.state(transferID)
	if err != nil {
		return err
	}
	if current > st.progress.CurrentPosition {
		st.progress.CurrentPosition = current
	}
	return nil
}

// UpdateProgressRange moves the current and end positions.
func (m *ProgressMonitor) UpdateProgressRange(_ context.Context, transferID string, current, end int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.state(transferID)
	if err != nil {
		return err
	}
	if current > st.progress.CurrentPosition {
		st.progress.CurrentPosition = current
	}
	st.progress.EndPosition = end
	return nil
}

// UpdateStatus changes the status.
func (m *ProgressMonitor) UpdateStatus(_ context.Context, transferID string, status domain.TransferStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.state(transferID)
	if err != nil {
		return err
	}
	st.progress.Status = status
	return nil
}

// Fail moves the transfer to StatusError with the given cause.
func (m *ProgressMonitor) Fail(_ context.Context, transferID string, cause *domain.TransferError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.state(transferID)
	if err != nil {
		return err
	}
	st.progress.Status = domain.StatusError
	st.progress.Error = cause
	return nil
}

// Log appends a log entry, filling in its id and timestamp when unset.
func (m *ProgressMonitor) Log(_ context.Context, entry domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.state(entry.TransferID)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = m.now()
	}
	st.log = append(st.log, entry)
	return nil
}

// Entries returns a copy of the transfer's log.
func (m *ProgressMonitor) Entries(_ context.Context, transferID string) ([]domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.state(transferID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.log), nil
}
