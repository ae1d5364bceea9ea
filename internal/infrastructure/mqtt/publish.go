package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends body to routingKey on the configured exchange prefix.
//
// Messages use the configured QoS and are never retained. If the client is
// disconnected Publish first reconnects; when that fails it returns
// ErrTransportUnavailable.
//
// Example:
//
//	err := client.Publish(".trf.hub.7", packet)
func (c *Client) Publish(routingKey string, body []byte) error {
	topic, err := TopicForRoutingKey(c.cfg.TopicPrefix, routingKey)
	if err != nil {
		return err
	}
	if len(body) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(body), maxPayloadSize)
	}

	if err := c.ensureConnected(); err != nil {
		return err
	}

	token := c.client.Publish(topic, c.qos(), false, body)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
