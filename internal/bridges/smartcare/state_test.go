package smartcare

import (
	"encoding/json"
	"testing"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want State
	}{
		// Colour
		{"colour", "120,50,75", ColorState(120, 50, 75)},
		{"colour decimals", "359.5,0.5,100", ColorState(359.5, 0.5, 100)},
		{"colour padded components", "10, 20, 30", Undefined},
		{"colour leading space", " 120,50,75", Undefined},
		{"colour bounds", "360,100,0", ColorState(360, 100, 0)},
		{"colour hue out of range", "361,50,50", Undefined},
		{"colour saturation out of range", "120,101,50", Undefined},
		{"colour negative", "-1,50,50", Undefined},
		{"colour two parts", "120,50", Undefined},
		{"colour four parts", "1,2,3,4", Undefined},
		{"colour non-numeric", "a,b,c", Undefined},

		// On/off
		{"on", "ON", OnOffState(true)},
		{"off", "OFF", OnOffState(false)},
		{"lower case on", "on", Undefined},

		// Percent
		{"percent", "42", PercentState(42)},
		{"percent decimal", "12.5", PercentState(12.5)},
		{"percent zero", "0", PercentState(0)},
		{"percent hundred", "100", PercentState(100)},
		{"percent over", "101", Undefined},
		{"percent negative", "-1", Undefined},
		{"percent NaN", "NaN", Undefined},
		{"percent Inf", "Inf", Undefined},
		{"percent hex", "0x10", Undefined},
		{"percent underscore", "1_0", Undefined},
		{"percent padded", " 42", Undefined},

		// Play/pause
		{"play", "PLAY", PlayPauseState(true)},
		{"pause", "PAUSE", PlayPauseState(false)},

		// Nothing matches
		{"empty", "", Undefined},
		{"unknown word", "STOP", Undefined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseState(tt.raw)
			if got != tt.want {
				t.Errorf("ParseState(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseState_PriorityOrder(t *testing.T) {
	// Every parser that accepts a string must lose to the ones listed before it.
	for _, raw := range []string{"120,50,75", "ON", "42", "PLAY"} {
		var first State
		matched := 0
		for _, parse := range Parsers {
			if s, ok := parse(raw); ok {
				if matched == 0 {
					first = s
				}
				matched++
			}
		}
		if matched == 0 {
			t.Fatalf("no parser accepted %q", raw)
		}
		if got := ParseState(raw); got != first {
			t.Errorf("ParseState(%q) = %+v, want first match %+v", raw, got, first)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{ColorState(120, 50, 75), "120,50,75"},
		{ColorState(0.5, 10, 99.25), "0.5,10,99.25"},
		{OnOffState(true), "ON"},
		{OnOffState(false), "OFF"},
		{PercentState(42), "42"},
		{PercentState(12.5), "12.5"},
		{PlayPauseState(true), "PLAY"},
		{PlayPauseState(false), "PAUSE"},
		{Undefined, "UNDEF"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			// The wire form parses back to the same state.
			if !tt.state.IsUndefined() {
				if got := ParseState(tt.want); got != tt.state {
					t.Errorf("ParseState(%q) = %+v, want %+v", tt.want, got, tt.state)
				}
			}
		})
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindUndefined: "undef",
		KindColor:     "color",
		KindOnOff:     "onoff",
		KindPercent:   "percent",
		KindPlayPause: "playpause",
		Kind(99):      "undef",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestStateFields(t *testing.T) {
	if f := Undefined.Fields(); f != nil {
		t.Errorf("Undefined.Fields() = %v, want nil", f)
	}

	f := ColorState(120, 50, 75).Fields()
	if f["hue"] != 120.0 || f["saturation"] != 50.0 || f["brightness"] != 75.0 {
		t.Errorf("colour fields = %v", f)
	}

	if f := OnOffState(true).Fields(); f["on"] != true {
		t.Errorf("on/off fields = %v", f)
	}
	if f := PercentState(42).Fields(); f["percent"] != 42.0 {
		t.Errorf("percent fields = %v", f)
	}
	if f := PlayPauseState(false).Fields(); f["playing"] != false {
		t.Errorf("play/pause fields = %v", f)
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		State State `json:"state"`
		Kind  Kind  `json:"kind"`
	}{PercentState(42), KindPercent})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"state":"42","kind":"percent"}` {
		t.Errorf("Marshal() = %s", data)
	}
}
