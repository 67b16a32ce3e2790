package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Presence states.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Offline reasons.
const (
	// ReasonConnectionLost is carried by the will, which the broker
	// publishes when the session dies without a clean disconnect.
	ReasonConnectionLost = "connection_lost"

	// ReasonShutdown is published by Close.
	ReasonShutdown = "shutdown"
)

// PresenceMessage is the retained marker on Topics.Presence. Upstream is the
// poller's view of the SmartCare endpoint at publish time, when known.
type PresenceMessage struct {
	Bridge    string    `json:"bridge"`
	ClientID  string    `json:"client_id"`
	Version   string    `json:"version,omitempty"`
	Status    string    `json:"status"`
	Upstream  string    `json:"upstream,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SetUpstreamStatus registers the source of the Upstream field. It is read
// every time presence is published, including after a reconnect.
func (c *Client) SetUpstreamStatus(fn func() string) {
	c.hooksMu.Lock()
	c.upstream = fn
	c.hooksMu.Unlock()
}

// PublishPresence publishes the online marker with the current upstream
// status. Call it when the upstream status changes.
func (c *Client) PublishPresence() error {
	payload, err := c.presencePayload(PresenceOnline, "")
	if err != nil {
		return err
	}
	return c.Publish(c.presenceTopic(), payload, c.opts.QoS, true)
}

func (c *Client) presenceTopic() string {
	return Topics{Protocol: c.opts.Presence.Protocol}.Presence(c.opts.Presence.BridgeID)
}

func (c *Client) presence(status, reason string) PresenceMessage {
	msg := PresenceMessage{
		Bridge:    c.opts.Presence.BridgeID,
		ClientID:  c.opts.ClientID,
		Version:   c.opts.Presence.Version,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}

	c.hooksMu.RLock()
	upstream := c.upstream
	c.hooksMu.RUnlock()
	if upstream != nil {
		msg.Upstream = upstream()
	}
	return msg
}

func (c *Client) presencePayload(status, reason string) ([]byte, error) {
	payload, err := json.Marshal(c.presence(status, reason))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal presence: %w", ErrPublishFailed, err)
	}
	return payload, nil
}
