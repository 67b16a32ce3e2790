package smartcare

import (
	"time"

	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/mqtt"
)

// Protocol is the protocol segment used in every topic and message.
const Protocol = "smartcare"

// StateMessage is published (retained) for every resolved channel state.
//
// Example on graylogic/state/smartcare/hue:
//
//	{"channel":"hue","device_id":2,"timestamp":"2026-03-01T12:00:00Z",
//	 "state":"120,50,75","kind":"color",
//	 "fields":{"hue":120,"saturation":50,"brightness":75},
//	 "protocol":"smartcare","source":"poll"}
type StateMessage struct {
	Channel   string         `json:"channel"`
	DeviceID  int            `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     State          `json:"state"`
	Kind      Kind           `json:"kind"`
	Fields    map[string]any `json:"fields,omitempty"`
	Protocol  string         `json:"protocol"`
	Source    string         `json:"source"`
}

// StatusMessage is published (retained) when the upstream status changes.
type StatusMessage struct {
	Bridge    string    `json:"bridge"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// HealthStatus is the bridge's own health, distinct from the upstream Status.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published periodically on the health topic.
type HealthMessage struct {
	Bridge          string          `json:"bridge"`
	Timestamp       time.Time       `json:"timestamp"`
	Status          HealthStatus    `json:"status"`
	Version         string          `json:"version"`
	UptimeSeconds   int64           `json:"uptime_seconds"`
	Upstream        *UpstreamStatus `json:"upstream,omitempty"`
	ChannelsManaged int             `json:"channels_managed"`
	Reason          string          `json:"reason,omitempty"`
}

// UpstreamStatus summarises the poller's view of the SmartCare endpoint.
type UpstreamStatus struct {
	URL   string    `json:"url"`
	Stats PollStats `json:"stats"`
}

// Request actions.
const (
	ActionRefresh = "refresh"
	ActionStatus  = "status"
)

// RequestMessage is received on graylogic/request/smartcare/{request_id}.
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`

	// Channel limits a refresh to one channel; empty means all.
	Channel string `json:"channel,omitempty"`
}

// ResponseMessage answers a RequestMessage on
// graylogic/response/smartcare/{request_id}.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response error codes.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnknownAction  = "UNKNOWN_ACTION"
	ErrCodeUnknownChannel = "UNKNOWN_CHANNEL"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeBridgeError    = "BRIDGE_ERROR"
)

// NewStateMessage builds the retained state message for an update.
func NewStateMessage(u ChannelUpdate) StateMessage {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return StateMessage{
		Channel:   u.Channel,
		DeviceID:  u.DeviceID,
		Timestamp: ts,
		State:     u.State,
		Kind:      u.State.Kind,
		Fields:    u.State.Fields(),
		Protocol:  Protocol,
		Source:    u.Source,
	}
}

// NewSuccessResponse builds a successful response.
func NewSuccessResponse(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// topics builds this bridge's MQTT topic names.
var topics = mqtt.Topics{Protocol: Protocol}

// StateTopic returns the retained state topic for a channel.
func StateTopic(channel string) string {
	return topics.State(channel)
}

// StatusTopic returns the upstream status topic.
func StatusTopic() string {
	return topics.Status()
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return topics.Health()
}

// RequestSubscribeTopic returns the wildcard for incoming requests.
func RequestSubscribeTopic() string {
	return topics.Requests()
}

// ResponseTopic returns the topic for a request's response.
func ResponseTopic(requestID string) string {
	return topics.Response(requestID)
}
