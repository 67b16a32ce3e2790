// Package smartcare implements the SmartCare polling bridge.
//
// The bridge periodically fetches a JSON device list from an HTTP endpoint,
// keeps the most recent list as an immutable snapshot, and publishes the
// resolved state of each configured channel ("sonos", "hue", ...) to MQTT.
//
// # Architecture
//
//	┌─────────────────┐   HTTP GET   ┌─────────────────┐   MQTT   ┌──────────┐
//	│ SmartCare hub   │◄─────────────│ Poller + Bridge │─────────►│  Broker  │
//	│ /api/devices    │   [{...}]    │   (this pkg)    │◄─────────│          │
//	└─────────────────┘              └─────────────────┘ requests └──────────┘
//
// # Payload
//
// The endpoint returns an array of records:
//
//	[{"deviceId": 1, "state": "ON"}, {"deviceId": 2, "state": "120,50,75"}]
//
// A body that is not such an array is rejected as a whole and the previous
// snapshot stays in place.
//
// # State Resolution
//
// A raw state is tried against each parser in Parsers, in order:
//
//  1. Colour:     "h,s,b" with h in [0,360], s and b in [0,100]
//  2. On/off:     "ON" or "OFF"
//  3. Percent:    a decimal in [0,100]
//  4. Play/pause: "PLAY" or "PAUSE"
//
// The first match wins. A device missing from the snapshot, or a state no
// parser accepts, resolves to UNDEF.
//
// # Topics
//
//	graylogic/state/smartcare/{channel}       retained channel state
//	graylogic/status/smartcare                retained ONLINE/OFFLINE marker
//	graylogic/health/smartcare                retained bridge health
//	graylogic/request/smartcare/{request_id}  refresh and status requests
//	graylogic/response/smartcare/{request_id} request responses
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package smartcare
