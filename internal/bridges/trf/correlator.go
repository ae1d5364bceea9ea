package trf

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a call waits for a reply.
const DefaultTimeout = 3 * time.Second

// CallRequest describes one request/reply exchange.
type CallRequest struct {
	SendKey    string        // routing key the request is published on
	ListenKey  string        // routing key the reply queue is bound to
	ReplyQueue string        // transient queue name, unique per call
	Packet     Packet        // request to send
	Timeout    time.Duration // zero means DefaultTimeout

	// Match filters replies arriving on ListenKey. Nil accepts the first
	// decodable reply.
	Match func(Packet) bool
}

type callResult struct {
	packet Packet
	err    error
}

// Correlator pairs a published request with its reply through a per-call
// reply queue. The payload carries no request id; the queue name is the
// correlation.
//
// Thread Safety:
//   - One call is in flight per Correlator. Concurrent callers block on
//     each other; use separate instances for parallel calls.
type Correlator struct {
	mu      sync.Mutex
	broker  Broker
	logger  Logger
	metrics *Metrics
}

// NewCorrelator creates a Correlator on broker. logger and metrics may be nil.
func NewCorrelator(broker Broker, logger Logger, metrics *Metrics) *Correlator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Correlator{
		broker:  broker,
		logger:  logger,
		metrics: metrics,
	}
}

// Call publishes req.Packet and waits for the matching reply.
//
// Errors:
//   - ErrTransportUnavailable when the broker rejects declare, publish or consume
//   - ErrMalformedPacket when the first reply cannot be decoded
//   - ErrCorrelationTimeout when no reply arrived within the timeout
//   - ctx.Err() when ctx ends first
//
// The reply queue is deleted before Call returns in every case.
func (c *Correlator) Call(ctx context.Context, req CallRequest) (Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	reply, err := c.call(ctx, req)
	c.metrics.observeCorrelation(time.Since(start), err)
	return reply, err
}

func (c *Correlator) call(ctx context.Context, req CallRequest) (Packet, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if err := c.broker.DeclareQueue(req.ReplyQueue, req.ListenKey, false); err != nil {
		return Packet{}, fmt.Errorf("%w: declaring %s: %w", ErrTransportUnavailable, req.ReplyQueue, err)
	}
	defer func() {
		if err := c.broker.DeleteQueue(req.ReplyQueue); err != nil {
			c.logger.Warn("failed to delete reply queue", "queue", req.ReplyQueue, "error", err)
		}
	}()

	consumeCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	results := make(chan callResult, 1)
	deliver := func(r callResult) {
		select {
		case results <- r:
		default:
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := c.broker.Consume(consumeCtx, req.ReplyQueue, func(routingKey string, body []byte) error {
			p, err := Decode(body)
			if err != nil {
				deliver(callResult{err: err})
				return nil
			}
			if req.Match != nil && !req.Match(p) {
				c.logger.Debug("ignoring unrelated reply",
					"queue", req.ReplyQueue, "routing_key", routingKey, "type", p.Type, "address", p.Address)
				return nil
			}
			deliver(callResult{packet: p})
			return nil
		}, true)
		if err != nil && consumeCtx.Err() == nil {
			deliver(callResult{err: fmt.Errorf("%w: consuming %s: %w", ErrTransportUnavailable, req.ReplyQueue, err)})
		}
	}()

	if err := c.broker.Publish(req.SendKey, Encode(req.Packet)); err != nil {
		return Packet{}, fmt.Errorf("%w: publishing to %s: %w", ErrTransportUnavailable, req.SendKey, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		return r.packet, r.err
	case <-timer.C:
		return Packet{}, fmt.Errorf("%w after %s on %s", ErrCorrelationTimeout, timeout, req.ReplyQueue)
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}
