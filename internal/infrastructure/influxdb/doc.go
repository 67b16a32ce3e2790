// Package influxdb records SmartCare bridge telemetry with the official
// influxdb-client-go v2 library.
//
// Two measurements are written, each tagged with the bridge ID:
//
//	smartcare_poll     result=ok|network|http_status|decode  duration_ms, records
//	smartcare_channel  channel, device_id, kind             state components
//
// Telemetry is optional. OptionsFromConfig returns ErrDisabled when it is
// switched off, and the bridge then runs without a MetricsWriter.
package influxdb
