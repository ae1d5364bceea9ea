package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/trf-bridge/internal/audit"
	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
)

// CommandRequest is the body of POST /commands.
type CommandRequest struct {
	DeviceID    string `json:"device_id"`
	CommandType int    `json:"command_type"`
	ParameterID int    `json:"parameter_id"`
	Value       int64  `json:"value"`
}

// CommandResponse is the body returned by POST /commands. Address and Value
// are -1 when the hub gave no usable reply.
type CommandResponse struct {
	Success bool           `json:"success"`
	Result  string         `json:"result"`
	Address int            `json:"address"`
	Value   int            `json:"value"`
	Reason  string         `json:"reason,omitempty"`
	Data    CommandRequest `json:"data"`
}

// commandEvent is broadcast on the notif channel after every command.
type commandEvent struct {
	Event  string              `json:"event"`
	Record audit.CommandRecord `json:"record"`
}

// validate checks the request and returns the wire fields it maps to.
func (req *CommandRequest) validate() (trf.PacketType, uint8, int32, string) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		return 0, 0, 0, "device_id is required"
	}
	if strings.ContainsAny(req.DeviceID, ".*#/+ ") {
		return 0, 0, 0, "device_id contains routing characters"
	}

	t := trf.PacketType(req.CommandType)
	switch {
	case req.CommandType < 0 || req.CommandType > 255:
		return 0, 0, 0, "invalid command type"
	case t != trf.Heartbeat && t != trf.Command && t != trf.GetParam && t != trf.SetParam:
		return 0, 0, 0, "invalid command type"
	}

	if req.ParameterID < 0 || req.ParameterID > 255 {
		return 0, 0, 0, "parameter_id must be between 0 and 255"
	}
	address := uint8(req.ParameterID)

	if req.Value < -1<<31 || req.Value > 1<<31-1 {
		return 0, 0, 0, "value out of range for a 32-bit integer"
	}
	value := int32(req.Value)

	switch t {
	case trf.SetParam:
		p, ok := trf.LookupParam(address)
		if !ok {
			return 0, 0, 0, "unknown parameter " + strconv.Itoa(req.ParameterID)
		}
		if !p.IsSettable {
			return 0, 0, 0, p.Name + " is not settable"
		}
	case trf.GetParam:
		if _, ok := trf.LookupParam(address); !ok {
			return 0, 0, 0, "unknown parameter " + strconv.Itoa(req.ParameterID)
		}
	case trf.Command:
		c := trf.CommandType(address)
		if c != trf.CommandResetParam && c != trf.CommandOTA {
			return 0, 0, 0, "unknown hub command " + strconv.Itoa(req.ParameterID)
		}
	}
	return t, address, value, ""
}

// handleSendCommand relays one request to a hub and waits for its reply.
// Transport details never reach the client; a failure carries a reason.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, address, value, problem := req.validate()
	if problem != "" {
		writeValidationError(w, problem)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandWait)
	reply, err := s.commands().Dispatch(ctx, req.DeviceID, t, address, value)
	cancel()

	resp := CommandResponse{Data: req}
	resp.Address, resp.Value = trf.AsPair(reply, err)
	resp.Success = err == nil
	if t == trf.Heartbeat {
		resp.Success = err == nil && reply.Value == 1
	}
	if reason, ok := trf.FailureReason(err); ok {
		resp.Reason = string(reason)
	} else if err != nil {
		resp.Reason = string(trf.ReasonTransportDown)
	}
	resp.Result = describeResult(t, address, reply, resp.Success, resp.Reason)

	rec := &audit.CommandRecord{
		DeviceID:    req.DeviceID,
		ParameterID: req.ParameterID,
		CommandType: req.CommandType,
		Value:       value,
		Success:     resp.Success,
		Reason:      resp.Reason,
		Address:     resp.Address,
		ReplyValue:  int64(resp.Value),
	}
	// The client may have gone; the record is still written.
	if logErr := s.commandLog.Create(context.WithoutCancel(r.Context()), rec); logErr != nil {
		s.logger.Error("failed to record command", "device_id", req.DeviceID, "error", logErr)
	}
	s.hub.Broadcast(trf.ChannelNotif, commandEvent{Event: "command", Record: *rec})

	writeJSON(w, http.StatusCreated, resp)
}

// describeResult renders a command outcome for people.
func describeResult(t trf.PacketType, address uint8, reply trf.Reply, success bool, reason string) string {
	if t == trf.Heartbeat {
		if success {
			return "hub is alive"
		}
		return "hub did not answer"
	}
	if !success {
		return fmt.Sprintf("%s failed: %s", t, strings.ReplaceAll(reason, "_", " "))
	}
	switch t {
	case trf.GetParam:
		return fmt.Sprintf("%s = %d", trf.ParamName(reply.Address), reply.Value)
	case trf.SetParam:
		return fmt.Sprintf("%s set to %d", trf.ParamName(reply.Address), reply.Value)
	default:
		return fmt.Sprintf("%s acknowledged", trf.CommandType(address))
	}
}

// handleListCommands pages through the command log.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{DeviceID: q.Get("device_id")}

	var ok bool
	if filter.Limit, ok = intQuery(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intQuery(w, q.Get("offset"), "offset"); !ok {
		return
	}

	result, err := s.commandLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
