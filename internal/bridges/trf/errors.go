package trf

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors for the TRF bridge package.
var (
	// ErrMalformedPacket is returned when bytes do not match the fixed
	// 15-byte layout or an encoding request is missing a field.
	ErrMalformedPacket = errors.New("trf: malformed packet")

	// ErrTransportUnavailable is returned when the broker cannot be used.
	// Correlator calls never retry it; the caller owns retry policy.
	ErrTransportUnavailable = errors.New("trf: transport unavailable")

	// ErrCorrelationTimeout is returned when no reply arrived in time.
	ErrCorrelationTimeout = errors.New("trf: correlation timed out")

	// ErrUnsupportedCommand is returned by Dispatch for packet types that
	// are not device requests.
	ErrUnsupportedCommand = errors.New("trf: unsupported command type")
)

// Reason classifies a failed device command.
type Reason string

// Failure reasons carried by CommandError.
const (
	ReasonTimeout        Reason = "timeout"
	ReasonMalformedReply Reason = "malformed_reply"
	ReasonTransportDown  Reason = "transport_down"
)

// CommandError describes why a device command produced no usable reply.
type CommandError struct {
	Op     string
	HubID  string
	Reason Reason
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("trf: %s on hub %s failed (%s): %v", e.Op, e.HubID, e.Reason, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// reasonFor maps a correlator error onto a failure reason.
// Context expiry counts as a timeout: the device did not answer in the
// window the caller was prepared to wait.
func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrMalformedPacket):
		return ReasonMalformedReply
	case errors.Is(err, ErrCorrelationTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ReasonTimeout
	default:
		return ReasonTransportDown
	}
}

// FailureReason extracts the Reason from an error returned by Controller.
func FailureReason(err error) (Reason, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
