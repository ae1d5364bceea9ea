package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned by HealthCheck when the client is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a single connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrTransportUnavailable is returned when reconnect attempts are
	// exhausted. Consumers end with this error after a lost connection
	// could not be restored.
	ErrTransportUnavailable = errors.New("mqtt: transport unavailable")

	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("mqtt: client closed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when binding a queue to the broker fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when removing a binding fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidTopic is returned for empty routing keys, or wildcards in a
	// publish key.
	ErrInvalidTopic = errors.New("mqtt: invalid routing key")

	// ErrInvalidQueue is returned for an empty queue name.
	ErrInvalidQueue = errors.New("mqtt: queue name cannot be empty")

	// ErrQueueExists is returned when a queue name is redeclared with a
	// different binding.
	ErrQueueExists = errors.New("mqtt: queue already declared with another binding")

	// ErrQueueNotFound is returned by Consume for an undeclared queue.
	ErrQueueNotFound = errors.New("mqtt: queue not found")

	// ErrAlreadyConsuming is returned when a queue already has a consumer.
	ErrAlreadyConsuming = errors.New("mqtt: queue already has a consumer")
)
