// Package logging provides structured logging for the TRF bridge.
//
// It wraps log/slog with JSON (production) or text (development) output,
// level filtering, and default service/version fields on every entry.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker or InfluxDB credentials.
package logging
