package device

import "errors"

// Errors returned by the state history repository.
//
//	if errors.Is(err, device.ErrNoHistory) {
//	    // channel has never changed state
//	}
var (
	// ErrInvalidEntry is returned when a history entry or query is missing required fields.
	ErrInvalidEntry = errors.New("device: invalid history entry")

	// ErrNoHistory is returned when a channel has no recorded state.
	ErrNoHistory = errors.New("device: no history")
)
