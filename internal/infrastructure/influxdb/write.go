package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the bridge.
const (
	MeasurementPoll    = "smartcare_poll"
	MeasurementChannel = "smartcare_channel"
)

// WritePollResult records one poll cycle: the result tag is "ok",
// "network", "http_status" or "decode", and records is 0 on failure.
func (c *Client) WritePollResult(result string, duration time.Duration, records int) {
	c.write(pollPoint(result, duration, records, time.Now()))
}

// WriteChannelState records a resolved channel state. fields carries the
// numeric components of the state (hue/saturation/brightness, percent, on,
// playing); UNDEF has none and is written as value=0 because line protocol
// rejects a point without fields.
func (c *Client) WriteChannelState(channel string, deviceID int, kind string, fields map[string]interface{}) {
	c.write(channelPoint(channel, deviceID, kind, fields, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if c.closed.Load() {
		return
	}
	c.points.Add(1)
	c.writeAPI.WritePoint(p)
}

func pollPoint(result string, duration time.Duration, records int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPoll,
		map[string]string{"result": result},
		map[string]interface{}{
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"records":     records,
		},
		at,
	)
}

func channelPoint(channel string, deviceID int, kind string, fields map[string]interface{}, at time.Time) *write.Point {
	if len(fields) == 0 {
		fields = map[string]interface{}{"value": 0.0}
	}
	return write.NewPoint(
		MeasurementChannel,
		map[string]string{
			"channel":   channel,
			"device_id": strconv.Itoa(deviceID),
			"kind":      kind,
		},
		fields,
		at,
	)
}
