package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler receives one message. paho calls it on its own goroutine;
// a returned error is logged and the message is still acknowledged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Subscribe registers handler for a topic pattern (+ and # wildcards) and
// remembers it so the subscription survives reconnects. Subscribing the
// same pattern again replaces the handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	if err := wait(c.paho.Subscribe(topic, qos, c.wrapHandler(handler)), publishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.subsMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subsMu.Unlock()
	return nil
}

// resubscribe restores every registered subscription after a reconnect.
// The clean session means the broker forgot them.
func (c *Client) resubscribe() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for topic, sub := range c.subs {
		c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// wrapHandler adapts a MessageHandler to paho, logging errors and
// recovering panics so one bad message cannot kill the router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
