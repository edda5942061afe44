package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteZoneMetric writes a single zone measurement to InfluxDB.
//
// This is the primary method for recording zone telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - zoneID: The zone number (1-8)
//   - measurement: The metric name (e.g., "volume", "power")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteZoneMetric(3, "volume", 25)
//	client.WriteZoneMetric(3, "power", 1)
func (c *Client) WriteZoneMetric(zoneID int, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"zone_metrics",
		map[string]string{
			"zone":        strconv.Itoa(zoneID),
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionEvent records a session lifecycle event.
//
// Used for tracking connection stability over time: connects,
// disconnects and reconnect attempts.
//
// Parameters:
//   - event: Event name (e.g., "connected", "disconnected", "reconnect_attempt")
//   - attempt: Reconnect attempt number (0 for non-reconnect events)
func (c *Client) WriteSessionEvent(event string, attempt int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_events",
		map[string]string{
			"event": event,
		},
		map[string]interface{}{
			"attempt": attempt,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
