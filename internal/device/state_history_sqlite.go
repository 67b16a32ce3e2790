package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeLayout keeps millisecond precision and sorts lexically,
	// which PruneHistory's string comparison relies on.
	historyTimeLayout = "2006-01-02T15:04:05.000Z"
)

// SQLiteStateHistoryRepository implements StateHistoryRepository on the
// state_history table.
type SQLiteStateHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStateHistoryRepository creates a repository over an open connection.
// The schema comes from the embedded migrations.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{
		db:  db,
		now: time.Now,
	}
}

// RecordStateChange inserts a new history row.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, entry StateHistoryEntry) error {
	if entry.Channel == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalidEntry)
	}
	if entry.State == "" {
		return fmt.Errorf("%w: state is required", ErrInvalidEntry)
	}
	if entry.Source == "" {
		entry.Source = SourcePoll
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO state_history (channel, device_id, state, kind, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Channel,
		entry.DeviceID,
		entry.State,
		entry.Kind,
		entry.Source,
		r.now().UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a channel, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - channel: Channel binding name
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, channel string, limit int) ([]StateHistoryEntry, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidEntry)
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, channel, device_id, state, kind, source, created_at
		 FROM state_history
		 WHERE channel = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		channel,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// LatestState returns the newest entry for a channel.
func (r *SQLiteStateHistoryRepository) LatestState(ctx context.Context, channel string) (StateHistoryEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, channel, device_id, state, kind, source, created_at
		 FROM state_history
		 WHERE channel = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		channel,
	)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StateHistoryEntry{}, ErrNoHistory
	}
	return entry, err
}

// PruneHistory deletes entries older than now-olderThan.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(historyTimeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (StateHistoryEntry, error) {
	var entry StateHistoryEntry
	var createdAt string

	err := s.Scan(&entry.ID, &entry.Channel, &entry.DeviceID, &entry.State, &entry.Kind, &entry.Source, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StateHistoryEntry{}, err
	}
	if err != nil {
		return StateHistoryEntry{}, fmt.Errorf("scanning state history: %w", err)
	}

	entry.CreatedAt, err = parseHistoryTimestamp(createdAt)
	if err != nil {
		return StateHistoryEntry{}, err
	}
	return entry, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

// parseHistoryTimestamp accepts the repository's own layout and plain
// RFC 3339 for rows written by other tools.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts.UTC(), nil
}
