package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePointWithTime queues one point for the batched writer.
//
// The ingest loop stores each sensor REPORT this way, stamped with the time
// the hub embedded in the packet rather than the arrival time:
//
//	client.WritePointWithTime("sensor_reading",
//	    map[string]string{"section": "kitchen", "device_id": "42", "pin": "5"},
//	    map[string]any{"value": int64(17), "embedded_ts": 1700000000.0},
//	    ts)
//
// Points are dropped silently after Close.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
