package trf

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultMeasurement is the time-series measurement telemetry is written to.
const DefaultMeasurement = "sensor_reading"

// Websocket channels used by the ingest loop.
const (
	ChannelLive  = "live"
	ChannelNotif = "notif"
)

// teardownTimeout bounds task-id cleanup after a transport failure.
const teardownTimeout = 5 * time.Second

// IngestorDeps holds the collaborators of an Ingestor.
type IngestorDeps struct {
	Broker   Broker          // required; owned by the Ingestor once Run starts
	Resolver SectionResolver // required
	Sink     Sink            // required
	Marker   TaskMarker      // optional; cleared when the loop dies
	Notifier Notifier        // optional
	Logger   Logger          // optional
	Metrics  *Metrics        // optional

	Queue       string // default TelemetryQueue
	RoutingKey  string // default TelemetryRoutingKey
	Measurement string // default DefaultMeasurement
}

// Reading is the live-feed payload for one stored telemetry point.
type Reading struct {
	Section    string    `json:"section"`
	DeviceID   string    `json:"device_id"`
	Pin        uint8     `json:"pin"`
	Value      int32     `json:"value"`
	EmbeddedTS float64   `json:"embedded_ts"`
	Time       time.Time `json:"time"`
}

// Ingestor consumes hub telemetry and writes REPORT packets to the sink.
type Ingestor struct {
	broker      Broker
	resolver    SectionResolver
	sink        Sink
	marker      TaskMarker
	notifier    Notifier
	logger      Logger
	metrics     *Metrics
	queue       string
	routingKey  string
	measurement string
}

// NewIngestor validates deps and applies defaults.
func NewIngestor(deps IngestorDeps) (*Ingestor, error) {
	switch {
	case deps.Broker == nil:
		return nil, errors.New("trf: ingestor requires a broker")
	case deps.Resolver == nil:
		return nil, errors.New("trf: ingestor requires a section resolver")
	case deps.Sink == nil:
		return nil, errors.New("trf: ingestor requires a sink")
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Queue == "" {
		deps.Queue = TelemetryQueue
	}
	if deps.RoutingKey == "" {
		deps.RoutingKey = TelemetryRoutingKey
	}
	if deps.Measurement == "" {
		deps.Measurement = DefaultMeasurement
	}
	return &Ingestor{
		broker:      deps.Broker,
		resolver:    deps.Resolver,
		sink:        deps.Sink,
		marker:      deps.Marker,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		queue:       deps.Queue,
		routingKey:  deps.RoutingKey,
		measurement: deps.Measurement,
	}, nil
}

// Run consumes telemetry until ctx ends or the transport fails. Delivery is
// at-most-once: messages are acknowledged on receipt.
//
// On cancellation Run closes the broker and returns nil. On a transport
// failure it closes the broker, clears the task marker, broadcasts a notif
// event and returns the error. Run never restarts itself.
func (i *Ingestor) Run(ctx context.Context) error {
	if err := i.broker.DeclareQueue(i.queue, i.routingKey, true); err != nil {
		return i.fail(fmt.Errorf("%w: declaring %s: %w", ErrTransportUnavailable, i.queue, err))
	}

	i.logger.Info("telemetry ingest started", "queue", i.queue, "routing_key", i.routingKey)

	err := i.broker.Consume(ctx, i.queue, func(routingKey string, body []byte) error {
		i.handle(ctx, routingKey, body)
		return nil
	}, true)

	if ctx.Err() != nil {
		i.closeBroker()
		i.logger.Info("telemetry ingest stopped")
		return nil
	}
	switch {
	case err == nil:
		err = fmt.Errorf("%w: queue %s was deleted", ErrTransportUnavailable, i.queue)
	case !errors.Is(err, ErrTransportUnavailable):
		err = fmt.Errorf("%w: consuming %s: %w", ErrTransportUnavailable, i.queue, err)
	}
	return i.fail(err)
}

func (i *Ingestor) handle(ctx context.Context, routingKey string, body []byte) {
	p, err := Decode(body)
	if err != nil {
		i.metrics.countIngest(ingestMalformed)
		i.logger.Warn("dropping malformed telemetry", "routing_key", routingKey, "error", err)
		return
	}

	deviceID := DeviceIDFromRoutingKey(routingKey)

	if p.Type != Report {
		i.metrics.countIngest(ingestIgnored)
		i.logger.Debug("non-report telemetry",
			"device_id", deviceID, "type", p.Type, "param", ParamName(p.Address), "value", p.Data)
		return
	}

	section, ok, err := i.resolver.LookupSection(ctx, deviceID, p.Address)
	if err != nil {
		i.metrics.countIngest(ingestFailed)
		i.logger.Error("sensor place lookup failed", "device_id", deviceID, "pin", p.Address, "error", err)
		return
	}
	if !ok {
		i.metrics.countIngest(ingestUnmapped)
		i.logger.Info("no sensor place for report", "device_id", deviceID, "pin", p.Address)
		return
	}

	ts := p.Time()
	i.sink.WritePointWithTime(i.measurement,
		map[string]string{
			"section":   section,
			"device_id": deviceID,
			"pin":       strconv.Itoa(int(p.Address)),
		},
		map[string]any{
			"value":       int64(p.Data),
			"embedded_ts": p.EmbeddedSeconds(),
		},
		ts,
	)
	i.metrics.countIngest(ingestStored)

	i.logger.Debug("reading stored",
		"section", section, "device_id", deviceID, "value", p.Data,
		"latency", time.Since(ts).String())

	if i.notifier != nil {
		i.notifier.Broadcast(ChannelLive, Reading{
			Section:    section,
			DeviceID:   deviceID,
			Pin:        p.Address,
			Value:      p.Data,
			EmbeddedTS: p.EmbeddedSeconds(),
			Time:       ts,
		})
	}
}

func (i *Ingestor) fail(err error) error {
	i.logger.Error("telemetry ingest failed", "queue", i.queue, "error", err)
	i.closeBroker()

	if i.marker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if clearErr := i.marker.ClearSensorTaskID(ctx); clearErr != nil {
			i.logger.Error("failed to clear ingest task id", "error", clearErr)
		}
	}

	if i.notifier != nil {
		i.notifier.Broadcast(ChannelNotif, map[string]any{
			"event": "ingest_stopped",
			"error": err.Error(),
		})
	}
	return err
}

func (i *Ingestor) closeBroker() {
	if err := i.broker.Close(); err != nil {
		i.logger.Warn("failed to close telemetry broker", "error", err)
	}
}
