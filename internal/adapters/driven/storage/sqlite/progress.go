package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure progressMonitor implements the interface.
var _ driven.ProgressMonitor = (*progressMonitor)(nil)

// progressMonitor persists transfer progress and logs.
type progressMonitor struct {
	store *Store
}

func unknownTransfer(transferID string) error {
	return fmt.Errorf("%w: %s", domain.ErrUnknownTransfer, transferID)
}

// Start registers a transfer.
func (m *progressMonitor) Start(ctx context.Context, transferID string) error {
	now := time.Now().UTC()
	res, err := m.store.db.ExecContext(ctx, `
		INSERT INTO transfers (id, status, started_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, transferID, string(domain.StatusPreCommit), now, now)
	if err != nil {
		return fmt.Errorf("starting transfer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transfer %s: %w", transferID, domain.ErrAlreadyExists)
	}
	return nil
}

// Progress returns the transfer's progress.
func (m *progressMonitor) Progress(ctx context.Context, transferID string) (*domain.TransferProgress, error) {
	row := m.store.db.QueryRowContext(ctx, `
		SELECT status, current_position, end_position, error
		FROM transfers WHERE id = ?
	`, transferID)

	var p domain.TransferProgress
	var status string
	var errJSON sql.NullString
	if err := row.Scan(&status, &p.CurrentPosition, &p.EndPosition, &errJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, unknownTransfer(transferID)
		}
		return nil, fmt.Errorf("scanning transfer: %w", err)
	}
	p.Status = domain.TransferStatus(status)

	if errJSON.Valid && errJSON.String != jsonNull {
		var te domain.TransferError
		if err := json.Unmarshal([]byte(errJSON.String), &te); err != nil {
			return nil, fmt.Errorf("decoding transfer error: %w", err)
		}
		p.Error = &te
	}
	return &p, nil
}

// UpdateProgress moves the current position forward.
func (m *progressMonitor) UpdateProgress(ctx context.Context, transferID string, current int) error {
	return m.update(ctx, transferID, `
		UPDATE transfers SET current_position = MAX(current_position, ?), updated_at = ?
		WHERE id = ?
	`, current, time.Now().UTC(), transferID)
}

// UpdateProgressRange moves the current and end positions.
func (m *progressMonitor) UpdateProgressRange(ctx context.Context, transferID string, current, end int) error {
	return m.update(ctx, transferID, `
		UPDATE transfers SET current_position = MAX(current_position, ?), end_position = ?, updated_at = ?
		WHERE id = ?
	`, current, end, time.Now().UTC(), transferID)
}

// UpdateStatus changes the status.
func (m *progressMonitor) UpdateStatus(ctx context.Context, transferID string, status domain.TransferStatus) error {
	return m.update(ctx, transferID, `
		UPDATE transfers SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), transferID)
}

// Fail moves the transfer to StatusError and stores the cause.
func (m *progressMonitor) Fail(ctx context.Context, transferID string, cause *domain.TransferError) error {
	var errJSON sql.NullString
	if cause != nil {
		data, err := json.Marshal(cause)
		if err != nil {
			return fmt.Errorf("encoding transfer error: %w", err)
		}
		errJSON = sql.NullString{String: string(data), Valid: true}
	}
	return m.update(ctx, transferID, `
		UPDATE transfers SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(domain.StatusError), errJSON, time.Now().UTC(), transferID)
}

func (m *progressMonitor) update(ctx context.Context, transferID, query string, args ...any) error {
	res, err := m.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}
	if n == 0 {
		return unknownTransfer(transferID)
	}
	return nil
}

// Log appends a log entry, filling in its id and timestamp when unset.
func (m *progressMonitor) Log(ctx context.Context, entry domain.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	var node sql.NullString
	if entry.Node != nil {
		node = sql.NullString{String: entry.Node.String(), Valid: true}
	}

	res, err := m.store.db.ExecContext(ctx, `
		INSERT INTO transfer_log (id, transfer_id, at, kind, node, path, message)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM transfers WHERE id = ?)
	`, entry.ID, entry.TransferID, entry.At, string(entry.Kind), node, entry.Path, entry.Message, entry.TransferID)
	if err != nil {
		return fmt.Errorf("logging transfer entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return unknownTransfer(entry.TransferID)
	}
	return nil
}

// Entries returns the transfer's log in append order.
func (m *progressMonitor) Entries(ctx context.Context, transferID string) ([]domain.LogEntry, error) {
	var exists bool
	if err := m.store.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM transfers WHERE id = ?)", transferID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking transfer: %w", err)
	}
	if !exists {
		return nil, unknownTransfer(transferID)
	}

	rows, err := m.store.db.QueryContext(ctx, `
		SELECT id, at, kind, node, path, message
		FROM transfer_log WHERE transfer_id = ?
		ORDER BY seq
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("querying transfer log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		e.TransferID = transferID
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transfer log: %w", err)
	}
	return entries, nil
}

func scanLogEntry(rows *sql.Rows) (*domain.LogEntry, error) {
	var e domain.LogEntry
	var kind string
	var node, path sql.NullString
	if err := rows.Scan(&e.ID, &e.At, &kind, &node, &path, &e.Message); err != nil {
		return nil, fmt.Errorf("scanning transfer log: %w", err)
	}
	e.Kind = domain.LogEntryKind(kind)
	e.Path = path.String
	if node.Valid && node.String != "" {
		ref, err := domain.ParseNodeRef(node.String)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer log: %w", err)
		}
		e.Node = &ref
	}
	return &e, nil
}

// jsonNull is the JSON representation of null.
const jsonNull = "null"
