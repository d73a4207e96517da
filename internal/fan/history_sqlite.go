package fan

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteStateHistoryRepository implements StateHistoryRepository using SQLite.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository creates a new SQLite state history repository.
// The fan_state_history table must already exist (database.Open bootstraps it).
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordStateChange inserts a new state history entry for a fan.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, serial string, f Fan, source string) error {
	if serial == "" {
		return fmt.Errorf("serial is required")
	}
	if source == "" {
		source = SourcePoll
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fan_state_history (serial, is_on, speed_percent, rpm, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		serial,
		f.IsOn,
		f.SpeedPercent,
		f.RPM,
		source,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// GetHistory returns recent state history entries for a fan, ordered
// newest first. The limit defaults to 50 and is capped at 200.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, serial string, limit int) ([]StateHistoryEntry, error) {
	if serial == "" {
		return nil, fmt.Errorf("serial is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, serial, is_on, speed_percent, rpm, source, created_at
		 FROM fan_state_history
		 WHERE serial = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		serial,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		var entry StateHistoryEntry
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Serial, &entry.IsOn, &entry.SpeedPercent, &entry.RPM, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entry.CreatedAt = ts

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}
