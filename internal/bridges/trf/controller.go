package trf

import (
	"context"
	"fmt"
	"time"
)

// Operation names used in logs, metrics and CommandError.Op.
const (
	OpHeartbeat = "heartbeat"
	OpGetParam  = "get_param"
	OpSetParam  = "set_param"
	OpCommand   = "command"
)

// Reply is the payload of a successful device command.
type Reply struct {
	Address uint8 `json:"address"`
	Value   int32 `json:"value"`
}

// ControllerOptions configures a Controller. Zero values take defaults.
type ControllerOptions struct {
	Timeout      time.Duration    // per-call reply wait, default 3s
	HubKeyPrefix string           // default ".trf.hub."
	ReplyKey     string           // default ".trf.server.*"
	Clock        func() time.Time // request timestamps, default time.Now
	Logger       Logger
	Metrics      *Metrics
}

// Controller issues typed commands to hubs. Each Controller owns one
// Correlator, so its calls are serialised; create one per concurrent caller.
// Several Controllers may share a Broker.
type Controller struct {
	corr         *Correlator
	timeout      time.Duration
	hubKeyPrefix string
	replyKey     string
	clock        func() time.Time
	logger       Logger
	metrics      *Metrics
}

// NewController creates a Controller publishing through broker.
func NewController(broker Broker, opts ControllerOptions) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HubKeyPrefix == "" {
		opts.HubKeyPrefix = DefaultHubKeyPrefix
	}
	if opts.ReplyKey == "" {
		opts.ReplyKey = ReplyRoutingKey
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Controller{
		corr:         NewCorrelator(broker, opts.Logger, opts.Metrics),
		timeout:      opts.Timeout,
		hubKeyPrefix: opts.HubKeyPrefix,
		replyKey:     opts.ReplyKey,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// Heartbeat reports whether hubID answered a HEARTBEAT. Only a HEARTBEAT
// reply counts; other traffic on the reply key is ignored. Failures are
// logged and reported as false.
func (c *Controller) Heartbeat(ctx context.Context, hubID string) bool {
	_, err := c.request(ctx, OpHeartbeat, hubID, Heartbeat, 1, -1, matchType(Heartbeat))
	return err == nil
}

// GetParam reads parameter address from hubID.
func (c *Controller) GetParam(ctx context.Context, hubID string, address uint8) (Reply, error) {
	return c.request(ctx, OpGetParam, hubID, GetParam, address, -1, matchParam(GetParam, address))
}

// SetParam writes value to parameter address on hubID. The reply carries the
// value the hub accepted.
func (c *Controller) SetParam(ctx context.Context, hubID string, address uint8, value int32) (Reply, error) {
	return c.request(ctx, OpSetParam, hubID, SetParam, address, value, matchParam(SetParam, address))
}

// SendCommand sends a COMMAND packet whose address is the command type.
func (c *Controller) SendCommand(ctx context.Context, hubID string, command CommandType, data int32) (Reply, error) {
	return c.request(ctx, OpCommand, hubID, Command, uint8(command), data, matchType(Command))
}

// Dispatch routes a generic request by packet type. A heartbeat yields
// Reply{Address: 1, Value: 1} when the hub answered and Value 0 otherwise.
func (c *Controller) Dispatch(ctx context.Context, hubID string, t PacketType, address uint8, value int32) (Reply, error) {
	switch t {
	case Heartbeat:
		if c.Heartbeat(ctx, hubID) {
			return Reply{Address: 1, Value: 1}, nil
		}
		return Reply{Address: 1, Value: 0}, nil
	case Command:
		return c.SendCommand(ctx, hubID, CommandType(address), value)
	case GetParam:
		return c.GetParam(ctx, hubID, address)
	case SetParam:
		return c.SetParam(ctx, hubID, address, value)
	default:
		return Reply{}, fmt.Errorf("%w: %s", ErrUnsupportedCommand, t)
	}
}

func (c *Controller) request(ctx context.Context, op, hubID string, t PacketType, address uint8, data int32, match func(Packet) bool) (Reply, error) {
	p, err := c.corr.Call(ctx, CallRequest{
		SendKey:    c.hubKeyPrefix + hubID,
		ListenKey:  c.replyKey,
		ReplyQueue: ReplyQueueName(hubID),
		Packet:     NewPacket(t, address, data, c.clock()),
		Timeout:    c.timeout,
		Match:      match,
	})
	c.metrics.observeCommand(op, err)
	if err != nil {
		reason := reasonFor(err)
		c.logger.Warn("device command failed",
			"op", op, "hub_id", hubID, "address", address, "reason", reason, "error", err)
		return Reply{}, &CommandError{Op: op, HubID: hubID, Reason: reason, Err: err}
	}

	c.logger.Debug("device command completed",
		"op", op, "hub_id", hubID, "address", p.Address, "value", p.Data)
	return Reply{Address: p.Address, Value: p.Data}, nil
}

func matchType(t PacketType) func(Packet) bool {
	return func(p Packet) bool { return p.Type == t }
}

func matchParam(t PacketType, address uint8) func(Packet) bool {
	return func(p Packet) bool { return p.Type == t && p.Address == address }
}

// AsPair converts a result into the legacy (address, value) pair, with
// (-1, -1) for any failure.
func AsPair(r Reply, err error) (int, int) {
	if err != nil {
		return -1, -1
	}
	return int(r.Address), int(r.Value)
}
