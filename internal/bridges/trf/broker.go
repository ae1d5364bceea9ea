package trf

import (
	"context"
	"time"
)

// Broker is the topic transport the bridge runs on. Queues are addressed by
// name; the caller chooses every name.
//
// *mqtt.Client satisfies this interface.
type Broker interface {
	// Publish sends body to routingKey on the fixed exchange.
	Publish(routingKey string, body []byte) error

	// DeclareQueue creates queue name bound to routingKey. Messages that
	// arrive before Consume is called are buffered.
	DeclareQueue(name, routingKey string, durable bool) error

	// Consume delivers messages from queue until ctx ends, the queue is
	// deleted or the transport fails.
	Consume(ctx context.Context, queue string, handler func(routingKey string, body []byte) error, autoAck bool) error

	// DeleteQueue removes queue and ends its consumer.
	DeleteQueue(name string) error

	// Close releases the connection.
	Close() error
}

// SectionResolver maps a hub input to the logical sensor section it feeds.
// *sensor.Registry satisfies this interface.
type SectionResolver interface {
	LookupSection(ctx context.Context, deviceID string, address uint8) (section string, ok bool, err error)
}

// Sink accepts telemetry points. *influxdb.Client satisfies this interface.
type Sink interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// TaskMarker forgets the ingest task id so the supervisor relaunches it.
type TaskMarker interface {
	ClearSensorTaskID(ctx context.Context) error
}

// Notifier pushes events to live subscribers. *api.Hub satisfies this
// interface.
type Notifier interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging surface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
