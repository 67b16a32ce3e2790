package mqtt

import "fmt"

// maxPayloadSize caps a single message at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload and waits for the broker to acknowledge it (QoS > 0)
// or for paho to hand it to the network (QoS 0). Channel states, the status
// marker and health are published retained; responses are not.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %s: payload of %d bytes exceeds %d", ErrPublishFailed, topic, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	if err := wait(c.paho.Publish(topic, qos, retained, payload), publishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
