// Package influxdb stores and reads TRF sensor readings in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each REPORT packet from
// a hub becomes one point:
//
//	measurement  sensor_reading
//	tags         section, device_id, pin
//	fields       value (int), embedded_ts (float seconds)
//	time         the timestamp embedded by the hub
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	readings, err := client.QuerySection(ctx, "sensor_reading", "kitchen", time.Now().Add(-time.Hour))
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval), so write
// failures arrive through the SetOnError callback. Connection and query
// errors are returned directly.
package influxdb
