// Package timecode parses the loose start-time notation accepted by the clip
// API: "SS", "M:SS", "H:MM:SS", or a bare number of seconds.
package timecode

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Parse converts a time specification to seconds. It never fails: empty,
// malformed, negative or non-finite input yields 0.
func Parse(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}

	// Each component is weighted by 60 relative to the one after it.
	var total float64
	for _, p := range parts {
		v, ok := parseComponent(p)
		if !ok {
			return 0
		}
		total = total*60 + v
	}

	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return 0
	}
	return total
}

func parseComponent(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Value is a start time decoded from JSON. Clients send either a string
// ("1:30") or a number (90).
type Value struct {
	Raw string
}

// FromSeconds builds a Value from a number of seconds.
func FromSeconds(sec float64) Value {
	return Value{Raw: strconv.FormatFloat(sec, 'f', -1, 64)}
}

// Seconds returns the parsed offset.
func (v Value) Seconds() float64 {
	return Parse(v.Raw)
}

func (v Value) String() string {
	return v.Raw
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		v.Raw = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.Raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// Anything else (objects, booleans) parses as a zero offset.
		v.Raw = ""
		return nil
	}
	v.Raw = n.String()
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw)
}
