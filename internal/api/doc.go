// Package api implements the HTTP status API for the SmartCare bridge.
//
// This package provides:
//   - Read endpoints for resolved channel states and poller status
//   - A refresh trigger that fetches immediately instead of waiting for the timer
//   - Channel state history backed by SQLite
//   - WebSocket stream relaying the bridge's MQTT state and status publications
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/ws?subscribe=channel.state_changed,bridge.status_changed
//	GET  /api/v1/smartcare/status
//	POST /api/v1/smartcare/refresh
//	GET  /api/v1/smartcare/channels
//	GET  /api/v1/smartcare/channels/{channel}
//	POST /api/v1/smartcare/channels/{channel}/refresh
//	GET  /api/v1/smartcare/channels/{channel}/history?limit=N&since=RFC3339
//
// # Graceful Degradation
//
// The server operates without MQTT or the history database. Status reads
// always work; history endpoints answer 503 when no history store is wired,
// and the WebSocket stream stays silent without an MQTT client.
package api
