package smartcare

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStateMessageJSON(t *testing.T) {
	msg := NewStateMessage(ChannelUpdate{
		Channel:   "sonos",
		DeviceID:  1,
		State:     PercentState(35),
		Source:    SourceRefresh,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map failed: %v", err)
	}

	want := map[string]any{
		"channel":   "sonos",
		"device_id": 1.0,
		"timestamp": "2026-03-01T12:00:00Z",
		"state":     "35",
		"kind":      "percent",
		"protocol":  "smartcare",
		"source":    "refresh",
	}
	for k, v := range want {
		if raw[k] != v {
			t.Errorf("%s = %v, want %v", k, raw[k], v)
		}
	}
}

func TestNewStateMessageDefaultsTimestamp(t *testing.T) {
	before := time.Now().UTC()
	msg := NewStateMessage(ChannelUpdate{Channel: "hue"})
	if msg.Timestamp.Before(before) {
		t.Errorf("Timestamp = %v, want >= %v", msg.Timestamp, before)
	}
	if msg.Kind != KindUndefined || msg.Fields != nil {
		t.Errorf("zero update = %+v, want undefined", msg)
	}
}

func TestResponseMessages(t *testing.T) {
	ok := NewSuccessResponse("r1", map[string]any{"x": 1})
	if !ok.Success || ok.Error != nil || ok.RequestID != "r1" {
		t.Errorf("success response = %+v", ok)
	}

	failed := NewErrorResponse("r2", ErrCodeUpstream, "503 Service Unavailable")
	if failed.Success || failed.Error == nil || failed.Error.Code != ErrCodeUpstream {
		t.Errorf("error response = %+v", failed)
	}

	data, err := json.Marshal(failed)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, present := raw["data"]; present {
		t.Error("error response should omit data")
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", StateTopic("sonos"), "graylogic/state/smartcare/sonos"},
		{"status", StatusTopic(), "graylogic/status/smartcare"},
		{"health", HealthTopic(), "graylogic/health/smartcare"},
		{"requests", RequestSubscribeTopic(), "graylogic/request/smartcare/#"},
		{"response", ResponseTopic("r1"), "graylogic/response/smartcare/r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
