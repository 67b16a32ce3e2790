package mqtt

// TopicRoot is the namespace every bridge topic lives under.
const TopicRoot = "graylogic"

// Topics builds topic names for one bridge protocol:
//
//	graylogic/{category}/{protocol}[/{address}]
//
// The zero value is not useful; set Protocol.
type Topics struct {
	Protocol string
}

// State is the retained per-channel state topic.
//
// Example: graylogic/state/smartcare/sonos
func (t Topics) State(channel string) string {
	return t.join("state", channel)
}

// Status is the retained upstream ONLINE/OFFLINE marker.
//
// Example: graylogic/status/smartcare
func (t Topics) Status() string {
	return t.join("status", "")
}

// Health is the retained periodic health report.
func (t Topics) Health() string {
	return t.join("health", "")
}

// Requests matches every request addressed to the protocol, with or without
// a trailing request ID.
//
// Pattern: graylogic/request/smartcare/#
func (t Topics) Requests() string {
	return t.join("request", "#")
}

// Response is where the answer to one request is published.
func (t Topics) Response(requestID string) string {
	return t.join("response", requestID)
}

// Presence is the retained connection marker of one bridge instance. The
// broker publishes the will here when the session dies.
//
// Example: graylogic/presence/smartcare/smartcare-bridge-01
func (t Topics) Presence(bridgeID string) string {
	return t.join("presence", bridgeID)
}

func (t Topics) join(category, leaf string) string {
	topic := TopicRoot + "/" + category + "/" + t.Protocol
	if leaf != "" {
		topic += "/" + leaf
	}
	return topic
}
