package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteFanTelemetry records one fan's live readings.
//
// This is the primary telemetry write, fed from state-change events.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - serial: Device serial
//   - rpm: Last reported rotation speed
//   - speedPercent: Commanded duty cycle
//   - isOn: Whether the fan is running
func (c *Client) WriteFanTelemetry(serial string, rpm, speedPercent int, isOn bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"fan_telemetry",
		map[string]string{
			"serial": serial,
		},
		map[string]interface{}{
			"rpm":           rpm,
			"speed_percent": speedPercent,
			"is_on":         isOn,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteFleetGauge records fleet-level aggregates (device count, devices
// running).
//
// Parameters:
//   - total: Devices currently registered
//   - running: Devices with a positive speed
func (c *Client) WriteFleetGauge(total, running int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"fan_fleet",
		nil,
		map[string]interface{}{
			"total":   total,
			"running": running,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
