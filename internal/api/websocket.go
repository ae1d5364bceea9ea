package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/config"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// clientQueueSize is the per-client outbound queue length.
	clientQueueSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// wsChannels are the groups a client may join.
var wsChannels = []string{trf.ChannelLive, trf.ChannelNotif}

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub keeps connected clients in named groups and fans events out to the
// members of a group.
//
// Group membership and the client's queue are both guarded by mu, so a
// queue is never written after the client has left.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	members map[*WSClient]struct{}
	groups  map[string]map[*WSClient]struct{}
}

// WSClient is one connected feed consumer.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	queue  chan []byte
	joined []string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware already filtered the origin.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub with one group per feed channel.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	groups := make(map[string]map[*WSClient]struct{}, len(wsChannels))
	for _, ch := range wsChannels {
		groups[ch] = make(map[*WSClient]struct{})
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		members: make(map[*WSClient]struct{}),
		groups:  groups,
	}
}

// newClient builds a client that joins channels when registered.
func newClient(h *Hub, conn *websocket.Conn, channels []string) *WSClient {
	return &WSClient{
		hub:    h,
		conn:   conn,
		queue:  make(chan []byte, clientQueueSize),
		joined: channels,
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.members {
		h.dropLocked(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client to the hub and to its initial groups.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.members[c] = struct{}{}
	for _, ch := range c.joined {
		h.groups[ch][c] = struct{}{}
	}
	n := len(h.members)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "channels", c.joined, "clients", n)
}

// Unregister removes a client from the hub and closes its queue. Calling it
// for a client that already left does nothing.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.members[c]
	if ok {
		h.dropLocked(c)
	}
	n := len(h.members)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

func (h *Hub) dropLocked(c *WSClient) {
	delete(h.members, c)
	for _, group := range h.groups {
		delete(group, c)
	}
	close(c.queue)
}

// join adds c to channels, or removes it when leave is true. It reports
// false when c is no longer connected.
func (h *Hub) join(c *WSClient, channels []string, leave bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[c]; !ok {
		return false
	}
	for _, ch := range channels {
		if leave {
			delete(h.groups[ch], c)
		} else {
			h.groups[ch][c] = struct{}{}
		}
	}
	return true
}

// Broadcast sends payload to every member of channel. A client whose queue
// is full misses the event; the caller never blocks.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.groups[channel] {
		select {
		case c.queue <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("slow websocket clients missed an event", "channel", channel, "dropped", dropped)
	}
}

// reply queues a direct answer to one client if it is still connected.
func (h *Hub) reply(c *WSClient, msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.members[c]; !ok {
		return
	}
	select {
	case c.queue <- data:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) pingInterval() time.Duration {
	if h.cfg.PingInterval <= 0 {
		return defaultPingInterval
	}
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongTimeout() time.Duration {
	if h.cfg.PongTimeout <= 0 {
		return defaultPongTimeout
	}
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

// parseChannels splits a comma separated channel list. An empty list means
// every channel.
func parseChannels(raw string) ([]string, string, bool) {
	if raw == "" {
		return slices.Clone(wsChannels), "", true
	}
	var out []string
	for _, ch := range strings.Split(raw, ",") {
		ch = strings.TrimSpace(ch)
		if !slices.Contains(wsChannels, ch) {
			return nil, ch, false
		}
		if !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out, "", true
}

// handleWebSocket upgrades the connection. ?channels=live,notif picks the
// initial groups; without it the client joins every channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels, bad, ok := parseChannels(r.URL.Query().Get("channels"))
	if !ok {
		writeBadRequest(w, "unknown channel: "+bad)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(s.hub, conn, channels)
	s.hub.Register(c)

	go c.writeLoop()
	go c.readLoop()
}

func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	window := c.hub.pingInterval() + c.hub.pongTimeout()
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(window))
	}
	_ = extend("") //nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = extend("") //nolint:errcheck // A failed deadline surfaces as a read error
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(c.hub.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	wait := c.hub.pongTimeout()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.queue:
			if !ok {
				//nolint:errcheck // Peer may already be gone
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(wait))
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		//nolint:errcheck // A failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(wait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// dispatch handles one inbound frame.
func (c *WSClient) dispatch(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.hub.reply(c, WSMessage{Type: WSTypePong, ID: msg.ID})
	case WSTypeSubscribe, WSTypeUnsubscribe:
		for _, ch := range msg.Payload.Channels {
			if !slices.Contains(wsChannels, ch) {
				c.fail(msg.ID, "unknown channel: "+ch)
				return
			}
		}
		leave := msg.Type == WSTypeUnsubscribe
		if !c.hub.join(c, msg.Payload.Channels, leave) {
			return
		}
		key := "subscribed"
		if leave {
			key = "unsubscribed"
		}
		c.hub.reply(c, WSMessage{
			Type:    WSTypeResponse,
			ID:      msg.ID,
			Payload: map[string][]string{key: msg.Payload.Channels},
		})
	default:
		c.fail(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) fail(id, message string) {
	c.hub.reply(c, WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}
