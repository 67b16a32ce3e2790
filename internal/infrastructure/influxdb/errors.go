package influxdb

import "errors"

var (
	// ErrDisabled is returned by OptionsFromConfig when telemetry is off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps errors delivered to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
