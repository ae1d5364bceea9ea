package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// acker acknowledges a broker message once every queue it was routed to
// has finished with it.
type acker struct {
	remaining atomic.Int32
	msg       pahomqtt.Message
}

func newAcker(msg pahomqtt.Message, n int) *acker {
	a := &acker{msg: msg}
	a.remaining.Store(int32(n))
	return a
}

func (a *acker) done() {
	if a.remaining.Add(-1) == 0 {
		a.msg.Ack()
	}
}

type delivery struct {
	routingKey string
	payload    []byte
	ack        *acker
}

// queue is an in-process named queue bound to one broker filter.
type queue struct {
	name       string
	routingKey string
	filter     string
	durable    bool

	mu        sync.Mutex
	pending   []delivery
	consuming bool

	notify     chan struct{}
	deleted    chan struct{}
	deleteOnce sync.Once
}

func newQueue(name, routingKey, filter string, durable bool) *queue {
	return &queue{
		name:       name,
		routingKey: routingKey,
		filter:     filter,
		durable:    durable,
		notify:     make(chan struct{}, 1),
		deleted:    make(chan struct{}),
	}
}

// push buffers d and returns a delivery evicted to make room, if any.
func (q *queue) push(d delivery) (evicted *delivery) {
	q.mu.Lock()
	if len(q.pending) >= maxPendingPerQueue {
		old := q.pending[0]
		q.pending = q.pending[1:]
		evicted = &old
	}
	q.pending = append(q.pending, d)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (q *queue) pop() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.isDeleted() {
		return delivery{}, false
	}
	d := q.pending[0]
	q.pending[0] = delivery{}
	q.pending = q.pending[1:]
	return d, true
}

func (q *queue) isDeleted() bool {
	select {
	case <-q.deleted:
		return true
	default:
		return false
	}
}

func (q *queue) acquire() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consuming {
		return false
	}
	q.consuming = true
	return true
}

func (q *queue) release() {
	q.mu.Lock()
	q.consuming = false
	q.mu.Unlock()
}

// close ends the consumer and acknowledges anything still buffered.
func (q *queue) close() {
	q.deleteOnce.Do(func() {
		close(q.deleted)
		q.mu.Lock()
		pending := q.pending
		q.pending = nil
		q.mu.Unlock()
		for _, d := range pending {
			d.ack.done()
		}
	})
}

// abandon ends the consumer without acknowledging anything still buffered.
func (q *queue) abandon() {
	q.deleteOnce.Do(func() {
		close(q.deleted)
		q.mu.Lock()
		q.pending = nil
		q.mu.Unlock()
	})
}

// DeclareQueue creates queue name bound to routingKey.
//
// The broker subscription is made here, so messages arriving before Consume
// are buffered. Several queues may bind the same key and each receives every
// matching message. Redeclaring with the same key is a no-op; a different
// key returns ErrQueueExists.
//
// A durable queue on a persistent session survives Close on the broker side:
// its subscription stays, the broker queues matching messages while the
// client is away, and on the next connect those messages are handed to the
// queue once it is declared again. On a clean session durable has no effect
// beyond a warning.
func (c *Client) DeclareQueue(name, routingKey string, durable bool) error {
	if name == "" {
		return ErrInvalidQueue
	}
	filter, err := FilterForBindingKey(c.cfg.TopicPrefix, routingKey)
	if err != nil {
		return err
	}
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	c.queueMu.Lock()
	if existing, ok := c.queues[name]; ok {
		c.queueMu.Unlock()
		if existing.routingKey == routingKey {
			return nil
		}
		return fmt.Errorf("%w: %s bound to %s", ErrQueueExists, name, existing.routingKey)
	}
	bound := c.filterBoundLocked(filter)
	q := newQueue(name, routingKey, filter, durable)
	c.queues[name] = q
	c.queueMu.Unlock()

	if durable {
		if c.persistentSession() {
			c.adoptOrphans(q)
		} else {
			c.logger.Warn("durable queue on a clean MQTT session is not kept by the broker",
				"queue", name,
				"client_id", c.cfg.Broker.ClientID,
			)
		}
	}

	if bound {
		return nil
	}
	if err := c.subscribe(filter); err != nil {
		c.queueMu.Lock()
		delete(c.queues, name)
		c.queueMu.Unlock()
		q.close()
		return err
	}
	return nil
}

// DeleteQueue removes queue name and ends its consumer. The broker
// subscription is dropped when no other queue uses it. Unknown names, and
// calls after Close, are not errors.
func (c *Client) DeleteQueue(name string) error {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	c.queueMu.Lock()
	q, ok := c.queues[name]
	if !ok {
		c.queueMu.Unlock()
		return nil
	}
	delete(c.queues, name)
	stillBound := c.filterBoundLocked(q.filter)
	c.queueMu.Unlock()

	q.close()

	if stillBound || !c.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(q.filter)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Consume delivers messages from queue name to handler, in arrival order,
// until one of:
//   - ctx ends: returns ctx.Err()
//   - the queue is deleted: returns nil
//   - the client is closed: returns ErrClosed
//   - a lost connection cannot be restored: returns ErrTransportUnavailable
//
// With autoAck the message is acknowledged on receipt. Otherwise it is
// acknowledged once handler returns nil. Handler panics are recovered and
// logged.
func (c *Client) Consume(ctx context.Context, name string, handler MessageHandler, autoAck bool) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.queueMu.RLock()
	q, ok := c.queues[name]
	c.queueMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	if !q.acquire() {
		return fmt.Errorf("%w: %s", ErrAlreadyConsuming, name)
	}
	defer q.release()

	for {
		for {
			d, ok := q.pop()
			if !ok {
				break
			}
			c.deliver(q, d, handler, autoAck)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.deleted:
			return nil
		case <-c.ctx.Done():
			return ErrClosed
		case <-c.failure():
			return ErrTransportUnavailable
		case <-q.notify:
		}
	}
}

// QueueCount returns the number of declared queues.
func (c *Client) QueueCount() int {
	c.queueMu.RLock()
	defer c.queueMu.RUnlock()
	return len(c.queues)
}

func (c *Client) deliver(q *queue, d delivery, handler MessageHandler, autoAck bool) {
	if autoAck {
		d.ack.done()
	}
	err := c.invoke(q.name, d, handler)
	if autoAck {
		return
	}
	if err != nil {
		c.logger.Warn("MQTT message left unacknowledged",
			"queue", q.name,
			"routing_key", d.routingKey,
		)
		return
	}
	d.ack.done()
}

// invoke runs handler with panic recovery.
func (c *Client) invoke(queueName string, d delivery, handler MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("MQTT handler panic recovered",
				"queue", queueName,
				"routing_key", d.routingKey,
				"panic", r,
			)
			err = fmt.Errorf("mqtt: handler panic: %v", r)
		}
	}()

	if err = handler(d.routingKey, d.payload); err != nil {
		c.logger.Warn("MQTT handler returned error",
			"queue", queueName,
			"routing_key", d.routingKey,
			"error", err,
		)
	}
	return err
}

// dispatch returns the paho callback for filter. It fans each message out to
// every queue bound to filter without blocking paho's router.
func (c *Client) dispatch(filter string) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.queueMu.RLock()
		var targets []*queue
		for _, q := range c.queues {
			if q.filter == filter {
				targets = append(targets, q)
			}
		}
		c.queueMu.RUnlock()

		if len(targets) == 0 {
			msg.Ack()
			return
		}

		a := newAcker(msg, len(targets))
		routingKey := RoutingKeyForTopic(c.cfg.TopicPrefix, msg.Topic())
		for _, q := range targets {
			evicted := q.push(delivery{routingKey: routingKey, payload: msg.Payload(), ack: a})
			if evicted != nil {
				evicted.ack.done()
				c.logger.Warn("MQTT queue full, dropped oldest message", "queue", q.name)
			}
		}
	}
}

// routeUnmatched receives messages no subscription handler claims. On a
// persistent session these are replays for durable queues not yet declared
// in this process, so they are held for adoption. The oldest is acknowledged
// and dropped once maxPendingPerQueue are held.
func (c *Client) routeUnmatched(_ pahomqtt.Client, msg pahomqtt.Message) {
	if !c.persistentSession() {
		msg.Ack()
		return
	}

	c.orphanMu.Lock()
	var evicted pahomqtt.Message
	if len(c.orphans) >= maxPendingPerQueue {
		evicted = c.orphans[0]
		c.orphans = c.orphans[1:]
	}
	c.orphans = append(c.orphans, msg)
	c.orphanMu.Unlock()

	if evicted != nil {
		evicted.Ack()
		c.logger.Warn("MQTT session replay buffer full, dropped oldest message", "topic", evicted.Topic())
	}
}

// adoptOrphans moves held replays matching q's filter into q, oldest first.
func (c *Client) adoptOrphans(q *queue) {
	c.orphanMu.Lock()
	var adopted []pahomqtt.Message
	kept := c.orphans[:0]
	for _, m := range c.orphans {
		if filterMatches(q.filter, m.Topic()) {
			adopted = append(adopted, m)
		} else {
			kept = append(kept, m)
		}
	}
	clear(c.orphans[len(kept):])
	c.orphans = kept
	c.orphanMu.Unlock()

	for _, m := range adopted {
		routingKey := RoutingKeyForTopic(c.cfg.TopicPrefix, m.Topic())
		if evicted := q.push(delivery{routingKey: routingKey, payload: m.Payload(), ack: newAcker(m, 1)}); evicted != nil {
			evicted.ack.done()
		}
	}
	if len(adopted) > 0 {
		c.logger.Info("MQTT session replay adopted", "queue", q.name, "messages", len(adopted))
	}
}

// releaseTransient drops the broker subscriptions used only by transient
// queues so a persistent session keeps just the durable ones.
func (c *Client) releaseTransient() {
	if !c.persistentSession() {
		return
	}

	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	c.queueMu.RLock()
	durable := make(map[string]bool, len(c.queues))
	for _, q := range c.queues {
		durable[q.filter] = durable[q.filter] || q.durable
	}
	c.queueMu.RUnlock()

	for filter, keep := range durable {
		if keep {
			continue
		}
		token := c.client.Unsubscribe(filter)
		if !token.WaitTimeout(defaultPublishTimeout) || token.Error() != nil {
			c.logger.Warn("MQTT unsubscribe on close failed", "filter", filter, "error", token.Error())
		}
	}
}

func (c *Client) subscribe(filter string) error {
	token := c.client.Subscribe(filter, c.qos(), c.dispatch(filter))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, filter, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// restoreBindings re-subscribes every bound filter after a reconnect.
func (c *Client) restoreBindings() {
	c.queueMu.RLock()
	filters := make(map[string]struct{}, len(c.queues))
	for _, q := range c.queues {
		filters[q.filter] = struct{}{}
	}
	c.queueMu.RUnlock()

	for filter := range filters {
		if err := c.subscribe(filter); err != nil {
			c.logger.Error("failed to restore queue binding", "filter", filter, "error", err)
		}
	}
}

// filterBoundLocked reports whether any queue uses filter. Caller holds queueMu.
func (c *Client) filterBoundLocked(filter string) bool {
	for _, q := range c.queues {
		if q.filter == filter {
			return true
		}
	}
	return false
}
