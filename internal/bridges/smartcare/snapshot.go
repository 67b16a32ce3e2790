package smartcare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DeviceRecord is one entry of the polled JSON array.
type DeviceRecord struct {
	DeviceID int    `json:"deviceId"`
	State    string `json:"state"`
}

// Snapshot is the complete, immutable result of one successful poll.
//
// A Snapshot is never modified after it has been handed to the poller;
// a new poll replaces it wholesale.
type Snapshot struct {
	Records   []DeviceRecord
	FetchedAt time.Time
}

// Lookup returns the first record with the given device ID.
// A nil snapshot contains no records.
func (s *Snapshot) Lookup(deviceID int) (DeviceRecord, bool) {
	if s == nil {
		return DeviceRecord{}, false
	}
	for _, r := range s.Records {
		if r.DeviceID == deviceID {
			return r, true
		}
	}
	return DeviceRecord{}, false
}

// Len returns the number of records, zero for a nil snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// ResolveState finds the device in the snapshot and parses its raw state.
// A missing device or an unrecognised state resolves to Undefined.
func ResolveState(deviceID int, snapshot *Snapshot) State {
	rec, ok := snapshot.Lookup(deviceID)
	if !ok {
		return Undefined
	}
	return ParseState(rec.State)
}

// DecodeSnapshot parses a response body into a Snapshot.
//
// The body must be a JSON array whose elements are objects carrying an
// integer "deviceId" and a string "state". Unknown fields are ignored.
// Any violation is reported as ErrDecode.
func DecodeSnapshot(body []byte) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: top level is not a JSON array", ErrDecode)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	records := make([]DeviceRecord, 0, len(elems))
	for i, elem := range elems {
		rec, err := decodeRecord(elem)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", ErrDecode, i, err)
		}
		records = append(records, rec)
	}

	return &Snapshot{Records: records}, nil
}

func decodeRecord(elem json.RawMessage) (DeviceRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil {
		return DeviceRecord{}, fmt.Errorf("not an object: %w", err)
	}
	if fields == nil {
		return DeviceRecord{}, fmt.Errorf("not an object: null")
	}

	var rec DeviceRecord

	rawID, ok := fields["deviceId"]
	if !ok || isJSONNull(rawID) {
		return DeviceRecord{}, fmt.Errorf("missing deviceId")
	}
	if err := json.Unmarshal(rawID, &rec.DeviceID); err != nil {
		return DeviceRecord{}, fmt.Errorf("deviceId is not an integer: %w", err)
	}

	rawState, ok := fields["state"]
	if !ok || isJSONNull(rawState) {
		return DeviceRecord{}, fmt.Errorf("missing state")
	}
	if err := json.Unmarshal(rawState, &rec.State); err != nil {
		return DeviceRecord{}, fmt.Errorf("state is not a string: %w", err)
	}

	return rec, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
