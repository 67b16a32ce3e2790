package smartcare

import (
	"strconv"
	"strings"
)

// Kind identifies which representation a State holds.
type Kind uint8

// Representations in the order they are tried by ParseState.
const (
	KindUndefined Kind = iota
	KindColor
	KindOnOff
	KindPercent
	KindPlayPause
)

// String returns the lower-case kind name used in telemetry tags and history.
func (k Kind) String() string {
	switch k {
	case KindColor:
		return "color"
	case KindOnOff:
		return "onoff"
	case KindPercent:
		return "percent"
	case KindPlayPause:
		return "playpause"
	default:
		return "undef"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// HSB is a hue/saturation/brightness colour triplet.
// Hue is in degrees [0,360]; saturation and brightness are percentages [0,100].
type HSB struct {
	Hue        float64
	Saturation float64
	Brightness float64
}

// State is the resolved value of a channel: exactly one of the
// representations selected by Kind, or undefined.
//
// The zero value is Undefined.
type State struct {
	Kind    Kind
	Color   HSB
	On      bool
	Percent float64
	Playing bool
}

// Undefined is returned when a device is absent from the snapshot or its
// raw state matches no representation.
var Undefined = State{}

// ColorState returns a colour state.
func ColorState(hue, saturation, brightness float64) State {
	return State{Kind: KindColor, Color: HSB{Hue: hue, Saturation: saturation, Brightness: brightness}}
}

// OnOffState returns an on/off state.
func OnOffState(on bool) State {
	return State{Kind: KindOnOff, On: on}
}

// PercentState returns a percentage state.
func PercentState(v float64) State {
	return State{Kind: KindPercent, Percent: v}
}

// PlayPauseState returns a play/pause state.
func PlayPauseState(playing bool) State {
	return State{Kind: KindPlayPause, Playing: playing}
}

// IsUndefined reports whether s carries no representation.
func (s State) IsUndefined() bool {
	return s.Kind == KindUndefined
}

// String returns the canonical wire form:
// "120,50,75", "ON", "42", "PLAY" or "UNDEF".
func (s State) String() string {
	switch s.Kind {
	case KindColor:
		return formatDecimal(s.Color.Hue) + "," +
			formatDecimal(s.Color.Saturation) + "," +
			formatDecimal(s.Color.Brightness)
	case KindOnOff:
		if s.On {
			return "ON"
		}
		return "OFF"
	case KindPercent:
		return formatDecimal(s.Percent)
	case KindPlayPause:
		if s.Playing {
			return "PLAY"
		}
		return "PAUSE"
	default:
		return "UNDEF"
	}
}

// MarshalText implements encoding.TextMarshaler using the wire form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Fields returns the numeric or boolean components of the state, keyed for
// telemetry and structured MQTT payloads. Undefined states have no fields.
func (s State) Fields() map[string]any {
	switch s.Kind {
	case KindColor:
		return map[string]any{
			"hue":        s.Color.Hue,
			"saturation": s.Color.Saturation,
			"brightness": s.Color.Brightness,
		}
	case KindOnOff:
		return map[string]any{"on": s.On}
	case KindPercent:
		return map[string]any{"percent": s.Percent}
	case KindPlayPause:
		return map[string]any{"playing": s.Playing}
	default:
		return nil
	}
}

// Parser attempts to interpret a raw device state string as one
// representation.
type Parser func(raw string) (State, bool)

// Parsers is the ordered list tried by ParseState. The first parser that
// accepts the raw string wins.
var Parsers = []Parser{
	ParseColor,
	ParseOnOff,
	ParsePercent,
	ParsePlayPause,
}

// ParseState maps a raw state string to the first matching representation,
// or Undefined.
func ParseState(raw string) State {
	for _, parse := range Parsers {
		if s, ok := parse(raw); ok {
			return s
		}
	}
	return Undefined
}

// ParseColor accepts "h,s,b" with hue in [0,360] and saturation and
// brightness in [0,100]. Components may be decimals. Whitespace is not
// trimmed, matching ParsePercent: " 120,50,75" is not a colour.
func ParseColor(raw string) (State, bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return Undefined, false
	}

	var v [3]float64
	for i, p := range parts {
		f, ok := parseDecimal(p)
		if !ok {
			return Undefined, false
		}
		v[i] = f
	}

	if !inRange(v[0], 0, 360) || !inRange(v[1], 0, 100) || !inRange(v[2], 0, 100) {
		return Undefined, false
	}
	return ColorState(v[0], v[1], v[2]), true
}

// ParseOnOff accepts exactly "ON" or "OFF".
func ParseOnOff(raw string) (State, bool) {
	switch raw {
	case "ON":
		return OnOffState(true), true
	case "OFF":
		return OnOffState(false), true
	}
	return Undefined, false
}

// ParsePercent accepts a decimal number in [0,100].
func ParsePercent(raw string) (State, bool) {
	f, ok := parseDecimal(raw)
	if !ok || !inRange(f, 0, 100) {
		return Undefined, false
	}
	return PercentState(f), true
}

// ParsePlayPause accepts exactly "PLAY" or "PAUSE".
func ParsePlayPause(raw string) (State, bool) {
	switch raw {
	case "PLAY":
		return PlayPauseState(true), true
	case "PAUSE":
		return PlayPauseState(false), true
	}
	return Undefined, false
}

// parseDecimal parses a plain decimal literal such as "42", "-1", "12.5"
// or "1e2". Unlike strconv.ParseFloat alone it rejects "NaN", "Inf", hex
// floats and underscores.
func parseDecimal(s string) (float64, bool) {
	if !isDecimalLiteral(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isDecimalLiteral(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		expDigits := 0
		for i < len(s) && isDigit(s[i]) {
			i++
			expDigits++
		}
		if expDigits == 0 {
			return false
		}
	}
	return i == len(s)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
