package fan

import (
	"context"
	"time"
)

// StateHistoryEntry represents a single recorded fan state change.
//
// Each entry stores a full snapshot of the live state fields at the time
// the change was observed. The history is a diagnostics audit trail; the
// registry itself is always rebuilt from live discovery and never reads
// it back.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Serial is the unique identifier of the fan.
	Serial string `json:"serial"`

	// IsOn, SpeedPercent, RPM snapshot the state after the change.
	IsOn         bool `json:"is_on"`
	SpeedPercent int  `json:"speed_percent"`
	RPM          int  `json:"rpm"`

	// Source identifies how the change was observed (discovery, poll, command).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves fan state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records one observed state change.
	RecordStateChange(ctx context.Context, serial string, f Fan, source string) error

	// GetHistory returns recent state changes for the fan, newest first.
	// Implementations may clamp the limit.
	GetHistory(ctx context.Context, serial string, limit int) ([]StateHistoryEntry, error)
}
