package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/trf-bridge/internal/infrastructure/config"
	"github.com/nerrad567/trf-bridge/internal/retry"
)

// =============================================================================
// Fake paho client
// =============================================================================

type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	ch := make(chan struct{})
	close(ch)
	return &fakeToken{err: err, done: ch}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
	acks    atomic.Int32
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              { m.acks.Add(1) }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePaho struct {
	opts *pahomqtt.ClientOptions

	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	connectCalls int
	subs         map[string]pahomqtt.MessageHandler
	subscribes   []string
	unsubscribed []string
	published    []published
	disconnects  int
}

func newFakePaho() *fakePaho {
	return &fakePaho{subs: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) factory(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	f.opts = opts
	return f
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return completedToken(err)
		}
	}
	f.connected = true
	return completedToken(nil)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}
	f.mu.Lock()
	f.published = append(f.published, published{topic, qos, retained, body})
	f.mu.Unlock()
	return completedToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = callback
	f.subscribes = append(f.subscribes, topic)
	return completedToken(nil)
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return completedToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.subs, t)
		f.unsubscribed = append(f.unsubscribed, t)
	}
	return completedToken(nil)
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(f.opts)
}

// deliver routes a message through every matching subscription.
func (f *fakePaho) deliver(topic string, payload []byte) *fakeMessage {
	msg := &fakeMessage{topic: topic, payload: payload}
	f.mu.Lock()
	var handlers []pahomqtt.MessageHandler
	for filter, h := range f.subs {
		if filterMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(f, msg)
	}
	return msg
}

// dropConnection simulates the broker going away.
func (f *fakePaho) dropConnection(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.opts.OnConnectionLost(f, err)
}

func (f *fakePaho) setConnectErrs(errs ...error) {
	f.mu.Lock()
	f.connectErrs = errs
	f.mu.Unlock()
}

func (f *fakePaho) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePaho) unsubscribedFilters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

func (f *fakePaho) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// =============================================================================
// Helpers
// =============================================================================

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "trf-bridge-test",
		},
		QoS:         1,
		TopicPrefix: "",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
			MaxAttempts:  3,
		},
	}
}

// fastRetry keeps reconnect tests quick.
var fastRetry = WithReconnectPolicy(retry.Config{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
})

func connectFake(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	return connectFakeWith(t, testConfig())
}

func connectFakeWith(t *testing.T, cfg config.MQTTConfig) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	client, err := Connect(cfg, WithClientFactory(fake.factory), fastRetry)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, fake
}

type recorder struct {
	mu   sync.Mutex
	keys []string
	ch   chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 16)}
}

func (r *recorder) handle(routingKey string, _ []byte) error {
	r.mu.Lock()
	r.keys = append(r.keys, routingKey)
	r.mu.Unlock()
	r.ch <- routingKey
	return nil
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case k := <-r.ch:
		return k
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func consumeAsync(c *Client, ctx context.Context, queue string, h MessageHandler, autoAck bool) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, queue, h, autoAck) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return")
		return nil
	}
}

// =============================================================================
// Connection
// =============================================================================

func TestConnect_PublishesOnlineStatus(t *testing.T) {
	client, fake := connectFake(t)

	if client.State() != StateConnected {
		t.Errorf("State() = %s, want connected", client.State())
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	status := fake.publishedTo("/trf/system/status")
	if len(status) != 1 || !status[0].retained || !strings.Contains(string(status[0].payload), `"online"`) {
		t.Errorf("online status not published: %+v", status)
	}
	if !fake.opts.AutoAckDisabled {
		t.Error("paho auto-ack must be disabled")
	}
	if fake.opts.WillTopic != "/trf/system/status" {
		t.Errorf("WillTopic = %q", fake.opts.WillTopic)
	}
}

func TestConnect_RetriesThenSucceeds(t *testing.T) {
	fake := newFakePaho()
	fake.setConnectErrs(errors.New("refused"), errors.New("refused"))

	client, err := Connect(testConfig(), WithClientFactory(fake.factory), fastRetry)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	fake.mu.Lock()
	calls := fake.connectCalls
	fake.mu.Unlock()
	if calls != 3 {
		t.Errorf("connect attempts = %d, want 3", calls)
	}
}

func TestConnect_ExhaustedIsTransportUnavailable(t *testing.T) {
	fake := newFakePaho()
	fake.setConnectErrs(errors.New("refused"), errors.New("refused"), errors.New("refused"))

	_, err := Connect(testConfig(), WithClientFactory(fake.factory), fastRetry)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Connect() error = %v, want ErrTransportUnavailable", err)
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("error should wrap the last attempt: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	client, fake := connectFake(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if client.State() != StateClosed {
		t.Errorf("State() = %s, want closed", client.State())
	}
	if !client.State().Disconnected() {
		t.Error("closed client must report Disconnected()")
	}
	if fake.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", fake.disconnects)
	}
	status := fake.publishedTo("/trf/system/status")
	if len(status) != 2 || !strings.Contains(string(status[1].payload), "graceful_shutdown") {
		t.Errorf("offline status not published: %+v", status)
	}

	if err := client.Publish(".trf.hub.1", []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if err := client.DeclareQueue("q", ".trf.x", false); !errors.Is(err, ErrClosed) {
		t.Errorf("DeclareQueue after Close = %v, want ErrClosed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := connectFake(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck(cancelled) = nil")
	}

	client.Close()
	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck after Close = %v, want ErrNotConnected", err)
	}
	if err != nil && !strings.Contains(err.Error(), "state disconnected") {
		t.Errorf("HealthCheck after Close = %q, want state disconnected", err)
	}
}

// =============================================================================
// Publish
// =============================================================================

func TestPublish_TranslatesRoutingKey(t *testing.T) {
	client, fake := connectFake(t)

	if err := client.Publish(".trf.hub.7", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got := fake.publishedTo("/trf/hub/7")
	if len(got) != 1 {
		t.Fatalf("published = %+v", got)
	}
	if got[0].retained || got[0].qos != 1 {
		t.Errorf("qos=%d retained=%v, want 1/false", got[0].qos, got[0].retained)
	}
}

func TestPublish_Validation(t *testing.T) {
	client, _ := connectFake(t)

	tests := []struct {
		name    string
		key     string
		payload []byte
		want    error
	}{
		{"empty key", "", []byte{1}, ErrInvalidTopic},
		{"wildcard", ".trf.hub.*", []byte{1}, ErrInvalidTopic},
		{"oversize", ".trf.hub.1", make([]byte, maxPayloadSize+1), ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.key, tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("Publish() = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Queues
// =============================================================================

func TestDeclareQueue_BuffersUntilConsume(t *testing.T) {
	client, fake := connectFake(t)

	if err := client.DeclareQueue("rpl-queue_7_a", ".trf.server.*", false); err != nil {
		t.Fatalf("DeclareQueue() error = %v", err)
	}
	msg := fake.deliver("/trf/server/7", []byte("reply"))

	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := consumeAsync(client, ctx, "rpl-queue_7_a", rec.handle, true)

	if got := rec.next(t); got != ".trf.server.7" {
		t.Errorf("routing key = %q, want .trf.server.7", got)
	}
	if msg.acks.Load() != 1 {
		t.Errorf("acks = %d, want 1", msg.acks.Load())
	}

	cancel()
	if err := waitErr(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Consume() = %v, want context.Canceled", err)
	}
}

func TestDeclareQueue_Redeclare(t *testing.T) {
	client, _ := connectFake(t)

	if err := client.DeclareQueue("trf_queue", ".trf.server.message.*", true); err != nil {
		t.Fatal(err)
	}
	if err := client.DeclareQueue("trf_queue", ".trf.server.message.*", true); err != nil {
		t.Errorf("identical redeclare = %v, want nil", err)
	}
	if err := client.DeclareQueue("trf_queue", ".trf.other", true); !errors.Is(err, ErrQueueExists) {
		t.Errorf("conflicting redeclare = %v, want ErrQueueExists", err)
	}
	if err := client.DeclareQueue("", ".trf.x", false); !errors.Is(err, ErrInvalidQueue) {
		t.Errorf("empty name = %v, want ErrInvalidQueue", err)
	}
}

func TestQueues_FanOutAndSharedSubscription(t *testing.T) {
	client, fake := connectFake(t)

	for _, name := range []string{"a", "b"} {
		if err := client.DeclareQueue(name, ".trf.server.*", false); err != nil {
			t.Fatal(err)
		}
	}
	if fake.subscriptionCount() != 1 {
		t.Errorf("broker subscriptions = %d, want 1", fake.subscriptionCount())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recA, recB := newRecorder(), newRecorder()
	consumeAsync(client, ctx, "a", recA.handle, false)
	consumeAsync(client, ctx, "b", recB.handle, false)

	msg := fake.deliver("/trf/server/3", []byte("x"))
	recA.next(t)
	recB.next(t)

	deadline := time.Now().Add(time.Second)
	for msg.acks.Load() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if msg.acks.Load() != 1 {
		t.Errorf("acks = %d, want exactly 1 after both queues handled it", msg.acks.Load())
	}

	if err := client.DeleteQueue("a"); err != nil {
		t.Fatal(err)
	}
	if fake.subscriptionCount() != 1 {
		t.Error("subscription removed while queue b still bound")
	}
	if err := client.DeleteQueue("b"); err != nil {
		t.Fatal(err)
	}
	if fake.subscriptionCount() != 0 {
		t.Error("subscription kept after last queue deleted")
	}
}

func TestConsume_ManualAckWithheldOnError(t *testing.T) {
	client, fake := connectFake(t)
	if err := client.DeclareQueue("q", ".trf.x.*", false); err != nil {
		t.Fatal(err)
	}

	handled := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumeAsync(client, ctx, "q", func(string, []byte) error {
		handled <- struct{}{}
		return errors.New("sink down")
	}, false)

	msg := fake.deliver("/trf/x/1", nil)
	<-handled
	time.Sleep(20 * time.Millisecond)
	if msg.acks.Load() != 0 {
		t.Errorf("acks = %d, want 0 for failed handler", msg.acks.Load())
	}
}

func TestConsume_RecoversPanics(t *testing.T) {
	client, fake := connectFake(t)
	if err := client.DeclareQueue("q", ".trf.x.*", false); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumeAsync(client, ctx, "q", func(key string, body []byte) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return rec.handle(key, body)
	}, true)

	fake.deliver("/trf/x/1", nil)
	fake.deliver("/trf/x/2", nil)
	if got := rec.next(t); got != ".trf.x.2" {
		t.Errorf("second delivery = %q", got)
	}
}

func TestConsume_EndsOnDelete(t *testing.T) {
	client, _ := connectFake(t)
	if err := client.DeclareQueue("q", ".trf.x.*", false); err != nil {
		t.Fatal(err)
	}
	done := consumeAsync(client, context.Background(), "q", newRecorder().handle, true)
	time.Sleep(10 * time.Millisecond)

	if err := client.DeleteQueue("q"); err != nil {
		t.Fatal(err)
	}
	if err := waitErr(t, done); err != nil {
		t.Errorf("Consume() = %v, want nil after delete", err)
	}
	if err := client.DeleteQueue("q"); err != nil {
		t.Errorf("deleting unknown queue = %v, want nil", err)
	}
}

func TestConsume_Errors(t *testing.T) {
	client, _ := connectFake(t)

	if err := client.Consume(context.Background(), "missing", newRecorder().handle, true); !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("Consume(missing) = %v, want ErrQueueNotFound", err)
	}

	if err := client.DeclareQueue("q", ".trf.x.*", false); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumeAsync(client, ctx, "q", newRecorder().handle, true)
	time.Sleep(10 * time.Millisecond)
	if err := client.Consume(ctx, "q", newRecorder().handle, true); !errors.Is(err, ErrAlreadyConsuming) {
		t.Errorf("second Consume = %v, want ErrAlreadyConsuming", err)
	}
}

func TestConsume_EndsOnClose(t *testing.T) {
	client, _ := connectFake(t)
	if err := client.DeclareQueue("q", ".trf.x.*", false); err != nil {
		t.Fatal(err)
	}
	done := consumeAsync(client, context.Background(), "q", newRecorder().handle, true)
	time.Sleep(10 * time.Millisecond)

	client.Close()
	err := waitErr(t, done)
	if err != nil && !errors.Is(err, ErrClosed) {
		t.Errorf("Consume() after Close = %v, want ErrClosed or nil", err)
	}
}

// =============================================================================
// Reconnection
// =============================================================================

func TestReconnect_RestoresBindings(t *testing.T) {
	client, fake := connectFake(t)
	if err := client.DeclareQueue("trf_queue", ".trf.server.message.*", true); err != nil {
		t.Fatal(err)
	}

	reconnected := make(chan struct{}, 1)
	client.SetOnConnect(func() { reconnected <- struct{}{} })

	fake.dropConnection(errors.New("EOF"))

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}

	fake.mu.Lock()
	subs := append([]string(nil), fake.subscribes...)
	fake.mu.Unlock()
	if len(subs) != 2 || subs[1] != "/trf/server/message/+" {
		t.Errorf("subscriptions = %v, want binding restored", subs)
	}
}

func TestReconnect_ExhaustionEndsConsumers(t *testing.T) {
	client, fake := connectFake(t)
	if err := client.DeclareQueue("trf_queue", ".trf.server.message.*", true); err != nil {
		t.Fatal(err)
	}
	done := consumeAsync(client, context.Background(), "trf_queue", newRecorder().handle, true)
	time.Sleep(10 * time.Millisecond)

	var disconnected atomic.Bool
	client.SetOnDisconnect(func(error) { disconnected.Store(true) })
	fake.setConnectErrs(errors.New("refused"), errors.New("refused"), errors.New("refused"))
	fake.dropConnection(errors.New("EOF"))

	if err := waitErr(t, done); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Consume() = %v, want ErrTransportUnavailable", err)
	}
	if !disconnected.Load() {
		t.Error("OnDisconnect callback not invoked")
	}

	// The next operation tries again and succeeds now the broker is back.
	if err := client.Publish(".trf.hub.1", []byte{1}); err != nil {
		t.Errorf("Publish after broker recovery = %v", err)
	}
	if client.State() != StateConnected {
		t.Errorf("State() = %s, want connected", client.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateClosed:       "closed",
		State(9):          "State(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

func TestState_Disconnected(t *testing.T) {
	tests := map[State]bool{
		StateDisconnected: true,
		StateConnecting:   false,
		StateConnected:    false,
		StateClosed:       true,
	}
	for s, want := range tests {
		if got := s.Disconnected(); got != want {
			t.Errorf("%s.Disconnected() = %v, want %v", s, got, want)
		}
	}
}

// =============================================================================
// Sessions
// =============================================================================

func persistentConfig() config.MQTTConfig {
	cfg := testConfig()
	cfg.CleanSession = false
	return cfg
}

func cleanConfig() config.MQTTConfig {
	cfg := testConfig()
	cfg.CleanSession = true
	return cfg
}

func TestConnect_PassesCleanSession(t *testing.T) {
	_, persistent := connectFakeWith(t, persistentConfig())
	if persistent.opts.CleanSession {
		t.Error("CleanSession = true, want false for a persistent session")
	}
	_, clean := connectFakeWith(t, cleanConfig())
	if !clean.opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
}

func TestClose_PersistentSessionKeepsDurableQueues(t *testing.T) {
	client, fake := connectFakeWith(t, persistentConfig())

	if err := client.DeclareQueue("telemetry", ".trf.server.*", true); err != nil {
		t.Fatal(err)
	}
	if err := client.DeclareQueue("live", ".trf.live.#", false); err != nil {
		t.Fatal(err)
	}
	kept := fake.deliver("/trf/server/message", []byte{1})
	dropped := fake.deliver("/trf/live/12", []byte{2})

	client.Close()

	got := fake.unsubscribedFilters()
	if len(got) != 1 || got[0] != "/trf/live/#" {
		t.Errorf("unsubscribed = %v, want only the transient filter", got)
	}
	if n := kept.acks.Load(); n != 0 {
		t.Errorf("durable pending message acked %d times, want 0 so the broker redelivers", n)
	}
	if n := dropped.acks.Load(); n != 1 {
		t.Errorf("transient pending message acked %d times, want 1", n)
	}
}

func TestClose_CleanSessionReleasesEverything(t *testing.T) {
	client, fake := connectFakeWith(t, cleanConfig())

	if err := client.DeclareQueue("telemetry", ".trf.server.*", true); err != nil {
		t.Fatal(err)
	}
	msg := fake.deliver("/trf/server/message", []byte{1})

	client.Close()

	if got := fake.unsubscribedFilters(); len(got) != 0 {
		t.Errorf("unsubscribed = %v, want none", got)
	}
	if n := msg.acks.Load(); n != 1 {
		t.Errorf("pending message acked %d times, want 1", n)
	}
}

func TestDeclareQueue_DurableAdoptsSessionReplay(t *testing.T) {
	client, fake := connectFakeWith(t, persistentConfig())

	// The broker replays the stored session before the queue is declared.
	replay := &fakeMessage{topic: "/trf/server/message", payload: []byte{7}}
	other := &fakeMessage{topic: "/trf/hub/3", payload: []byte{8}}
	fake.opts.DefaultPublishHandler(fake, replay)
	fake.opts.DefaultPublishHandler(fake, other)
	if n := replay.acks.Load(); n != 0 {
		t.Fatalf("replay acked %d times before a queue took it", n)
	}

	if err := client.DeclareQueue("live", ".trf.server.*", false); err != nil {
		t.Fatal(err)
	}
	if err := client.DeclareQueue("telemetry", ".trf.server.*", true); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumeAsync(client, ctx, "telemetry", rec.handle, false)

	if got := rec.next(t); got != ".trf.server.message" {
		t.Errorf("routing key = %q", got)
	}
	deadline := time.Now().Add(time.Second)
	for replay.acks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := replay.acks.Load(); n != 1 {
		t.Errorf("replay acked %d times, want 1", n)
	}
	if n := other.acks.Load(); n != 0 {
		t.Errorf("unrelated replay acked %d times, want 0", n)
	}
}

func TestDefaultHandler_CleanSessionAcksUnmatched(t *testing.T) {
	_, fake := connectFakeWith(t, cleanConfig())

	msg := &fakeMessage{topic: "/trf/server/message"}
	fake.opts.DefaultPublishHandler(fake, msg)
	if n := msg.acks.Load(); n != 1 {
		t.Errorf("acks = %d, want 1", n)
	}
}
