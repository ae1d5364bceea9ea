package influxdb

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Reading is one stored sensor sample.
type Reading struct {
	Time       time.Time `json:"time"`
	Section    string    `json:"section"`
	DeviceID   string    `json:"device_id"`
	Pin        string    `json:"pin"`
	Value      int64     `json:"value"`
	EmbeddedTS float64   `json:"embedded_ts"`
}

// QuerySection returns the readings stored for section since the given time,
// oldest first.
func (c *Client) QuerySection(ctx context.Context, measurement, section string, since time.Time) ([]Reading, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, buildSectionQuery(c.cfg.Bucket, measurement, section, since))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var readings []Reading
	for result.Next() {
		rec := result.Record()
		readings = append(readings, Reading{
			Time:       rec.Time(),
			Section:    stringValue(rec.ValueByKey("section")),
			DeviceID:   stringValue(rec.ValueByKey("device_id")),
			Pin:        stringValue(rec.ValueByKey("pin")),
			Value:      intValue(rec.ValueByKey("value")),
			EmbeddedTS: floatValue(rec.ValueByKey("embedded_ts")),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return readings, nil
}

// buildSectionQuery pivots value and embedded_ts into one row per sample.
func buildSectionQuery(bucket, measurement, section string, since time.Time) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s and r.section == %s)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"])`,
		fluxString(bucket),
		since.UTC().Format(time.RFC3339Nano),
		fluxString(measurement),
		fluxString(section),
	)
}

// fluxString renders s as a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n) // #nosec G115 -- sensor values fit in int32
	case float64:
		return int64(n)
	}
	return 0
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}
