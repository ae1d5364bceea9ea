package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/trf-bridge/internal/infrastructure/config"
	"github.com/nerrad567/trf-bridge/internal/retry"
)

// State is the connection state of a Client.
//
// StateClosed is the terminal form of StateDisconnected: a closed client
// holds no broker connection and reports Disconnected() true, but it will
// never reconnect.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// Disconnected reports whether no broker connection is held, including after
// Close.
func (s State) Disconnected() bool {
	return s == StateDisconnected || s == StateClosed
}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for consumed messages.
//
// Parameters:
//   - routingKey: The routing key the message was published with
//   - payload: The raw message body
//
// Returns:
//   - error: For manually acknowledged consumers, a non-nil error leaves the
//     message unacknowledged
type MessageHandler = func(routingKey string, payload []byte) error

// Client wraps paho.mqtt.golang with topic-exchange semantics: publishes go
// to routing keys, and consumers read from named queues bound to binding
// keys.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Queue bindings are restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	factory ClientFactory
	cfg     config.MQTTConfig
	policy  retry.Config

	state   State
	stateMu sync.RWMutex

	// failed is closed when a lost connection could not be restored. A
	// fresh channel is installed on the next successful connect.
	failed       chan struct{}
	failedClosed bool

	// reconnectMu makes concurrent callers share one reconnect.
	reconnectMu sync.Mutex

	queues  map[string]*queue
	queueMu sync.RWMutex

	// bindMu serialises declare and delete so broker subscriptions follow
	// queue bindings exactly.
	bindMu sync.Mutex

	// orphans holds messages the broker replays from a persistent session
	// before the matching durable queue is declared again.
	orphans  []pahomqtt.Message
	orphanMu sync.Mutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Connect establishes a connection to the broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS, manual acks)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Connects, retrying per cfg.Reconnect
//  4. Publishes online status to the system status topic
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: wrapping ErrTransportUnavailable if every attempt failed
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := &Client{
		factory: pahomqtt.NewClient,
		cfg:     cfg,
		policy:  reconnectPolicy(cfg.Reconnect),
		state:   StateDisconnected,
		failed:  make(chan struct{}),
		queues:  make(map[string]*queue),
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	pahoOpts := buildClientOptions(cfg)
	configureLWT(pahoOpts, cfg.TopicPrefix, cfg.Broker.ClientID)
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	pahoOpts.SetDefaultPublishHandler(c.routeUnmatched)

	c.client = c.factory(pahoOpts)
	if err := c.ensureConnected(); err != nil {
		c.cancel()
		return nil, err
	}
	return c, nil
}

// connectOnce performs a single connection attempt.
func (c *Client) connectOnce() error {
	if !c.transition(StateConnecting) {
		return retry.NonRetryable(ErrClosed)
	}

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		c.transition(StateDisconnected)
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		c.transition(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.restoreBindings()

	c.stateMu.Lock()
	if c.state == StateClosed {
		c.stateMu.Unlock()
		return retry.NonRetryable(ErrClosed)
	}
	c.state = StateConnected
	if c.failedClosed {
		c.failed = make(chan struct{})
		c.failedClosed = false
	}
	c.stateMu.Unlock()

	c.publishStatus(buildOnlinePayload(c.cfg.Broker.ClientID))
	c.logger.Info("mqtt connected", "client_id", c.cfg.Broker.ClientID)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
	return nil
}

// ensureConnected returns nil when connected, otherwise runs the reconnect
// policy. Exhaustion marks every consumer failed.
func (c *Client) ensureConnected() error {
	switch c.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	switch c.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}

	err := retry.Do(c.ctx, c.policy, func(attempt int) error {
		err := c.connectOnce()
		if err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("mqtt connect attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) || c.State() == StateClosed {
		return ErrClosed
	}

	c.markFailed()
	return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	if !c.transition(StateDisconnected) {
		return
	}
	c.logger.Warn("mqtt connection lost", "error", err)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}

	go func() {
		if err := c.ensureConnected(); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Error("mqtt reconnect failed", "error", err)
		}
	}()
}

// transition moves to s unless the client is closed.
func (c *Client) transition(s State) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = s
	return true
}

func (c *Client) markFailed() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.failedClosed {
		close(c.failed)
		c.failedClosed = true
	}
}

func (c *Client) failure() <-chan struct{} {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.failed
}

// publishStatus publishes a retained status payload, ignoring failures.
func (c *Client) publishStatus(payload string) {
	token := c.client.Publish(SystemStatusTopic(c.cfg.TopicPrefix), c.qos(), true, payload)
	if !token.WaitTimeout(defaultPublishTimeout) || token.Error() != nil {
		c.logger.Warn("mqtt status publish failed", "error", token.Error())
	}
}

// Close gracefully disconnects from the broker and ends every consumer.
//
// With a persistent session (clean_session false) the broker subscriptions
// of durable queues are left in place so the broker keeps queueing for them,
// and their unacknowledged messages are redelivered on the next connect.
// Transient queues are unsubscribed first. With a clean session the broker
// discards everything on disconnect.
//
// It publishes a graceful offline status (distinct from the LWT crash
// status) before disconnecting. Close is idempotent and always returns nil;
// teardown problems are logged.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		wasConnected := c.IsConnected()

		c.stateMu.Lock()
		c.state = StateClosed
		c.stateMu.Unlock()
		c.cancel()

		if wasConnected {
			c.releaseTransient()
			c.publishStatus(buildOfflinePayload(c.cfg.Broker.ClientID))
		}
		c.client.Disconnect(defaultDisconnectQuiesce)

		persistent := c.persistentSession()
		c.queueMu.Lock()
		for name, q := range c.queues {
			if persistent && q.durable {
				// Unacknowledged messages are redelivered by the broker
				// on the next session.
				q.abandon()
			} else {
				q.close()
			}
			delete(c.queues, name)
		}
		c.queueMu.Unlock()

		c.orphanMu.Lock()
		c.orphans = nil
		c.orphanMu.Unlock()

		c.logger.Info("mqtt disconnected", "client_id", c.cfg.Broker.ClientID)
	})
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		state := c.State()
		if state.Disconnected() {
			state = StateDisconnected
		}
		return fmt.Errorf("%w: state %s", ErrNotConnected, state)
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked after every successful connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// persistentSession reports whether the broker keeps subscriptions and queued
// messages for this client id across connections.
func (c *Client) persistentSession() bool {
	return !c.cfg.CleanSession
}

func (c *Client) qos() byte {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return 1
	}
	return byte(c.cfg.QoS)
}
