// Package api implements the HTTP REST API and WebSocket server for the TRF bridge.
//
// This package provides:
//   - Device command relay with a bounded wait for the hub's reply
//   - Parameter catalog and sensor place management
//   - Telemetry history from InfluxDB and ingest supervisor status
//   - WebSocket hub with "live" (readings) and "notif" (events) channels
//   - Prometheus exposition on /api/v1/metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Command Results
//
// POST /api/v1/commands always answers 201 once the request is valid. A hub
// that does not answer, answers with garbage or cannot be reached yields
// success=false, address=-1, value=-1 and a reason of timeout,
// malformed_reply or transport_down. Transport errors are logged, never
// returned.
//
// # Graceful Degradation
//
// Without InfluxDB the telemetry endpoint answers 503 while commands, places
// and the WebSocket feed keep working.
package api
