package mqtt

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrTimeout wraps a token that did not complete in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	ErrInvalidTopic   = errors.New("mqtt: topic cannot be empty")
	ErrInvalidOptions = errors.New("mqtt: invalid options")
)
