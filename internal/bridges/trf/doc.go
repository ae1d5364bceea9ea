// Package trf implements the bridge to TRF field hubs.
//
// Hubs speak a fixed 15-byte little-endian packet over a topic broker. The
// bridge runs two flows on top of it:
//
//	┌──────────────┐  .trf.hub.<id>        ┌─────────┐
//	│  Controller  │──────────────────────►│         │
//	│ (Correlator) │◄──────────────────────│   Hub   │
//	└──────────────┘  .trf.server.*        │         │
//	┌──────────────┐  .trf.server.message.*│         │
//	│   Ingestor   │◄──────────────────────│         │
//	└──────┬───────┘                       └─────────┘
//	       ▼
//	  SectionResolver → Sink
//
// # Commands
//
// Controller sends HEARTBEAT, GET_PARAM, SET_PARAM and COMMAND packets and
// waits for the reply on a reply queue named for the call:
//
//	ctrl := trf.NewController(broker, trf.ControllerOptions{Logger: log})
//	reply, err := ctrl.GetParam(ctx, "7", 12)
//	if reason, ok := trf.FailureReason(err); ok {
//	    log.Warn("get failed", "reason", reason)
//	}
//
// Failures are *CommandError values carrying a Reason. AsPair converts a
// result into the (-1, -1) sentinel used by the HTTP API.
//
// # Telemetry
//
// Ingestor consumes the durable trf_queue and writes each REPORT packet to
// the sink under the section its (device, pin) pair is mapped to. Unmapped
// and malformed packets are dropped.
//
// # Thread Safety
//
// A Correlator, and so a Controller, runs one call at a time. Ingestor.Run
// must be called once. Metrics and the parameter table are safe for
// concurrent use.
package trf
