package device

import (
	"context"
	"time"
)

// State history source values.
const (
	// SourcePoll marks a change observed by the periodic poll.
	SourcePoll = "poll"

	// SourceRefresh marks a change observed while serving a refresh request.
	SourceRefresh = "refresh"
)

// StateHistoryEntry is one recorded channel state change.
//
// Only changes are recorded: a channel whose resolved state is unchanged
// between polls produces no new row.
type StateHistoryEntry struct {
	ID int64 `json:"id"`

	// Channel is the binding name (e.g. "sonos", "hue").
	Channel string `json:"channel"`

	// DeviceID is the upstream device the channel was bound to at the time.
	DeviceID int `json:"device_id"`

	// State is the wire form of the resolved state ("ON", "120,50,75", "UNDEF").
	State string `json:"state"`

	// Kind is the state variant ("onoff", "color", "percent", "playpause", "undef").
	Kind string `json:"kind"`

	// Source is SourcePoll or SourceRefresh.
	Source string `json:"source"`

	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves channel state history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange appends an entry. CreatedAt and ID are assigned by
	// the repository.
	RecordStateChange(ctx context.Context, entry StateHistoryEntry) error

	// GetHistory returns the most recent entries for a channel, newest first.
	// A limit <= 0 selects the default; larger limits are clamped.
	GetHistory(ctx context.Context, channel string, limit int) ([]StateHistoryEntry, error)

	// LatestState returns the newest entry for a channel, or ErrNoHistory.
	LatestState(ctx context.Context, channel string) (StateHistoryEntry, error)

	// PruneHistory deletes entries older than the given age and reports how
	// many rows were removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
