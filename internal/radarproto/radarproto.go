// Package radarproto parses the decoded log lines the radar firmware emits
// and projects them into target samples.
package radarproto

import (
	"math"
	"strconv"
	"strings"
)

const targetPrefix = "EVENTS: TARGET: "

// Target is a single parsed radar detection: speed in km/h, x/y in
// millimetres relative to the radar.
type Target struct {
	Speed int16
	X     int16
	Y     int16
}

// ParseLine parses a decoded log line. ok is false for any line that is not
// prefixed with "EVENTS: TARGET: ", does not split into exactly three
// whitespace-separated tokens, or whose tokens are not valid int16s — all of
// which are meant to be logged and ignored by the caller, not propagated.
func ParseLine(line string) (t Target, ok bool) {
	rest, found := strings.CutPrefix(line, targetPrefix)
	if !found {
		return Target{}, false
	}

	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return Target{}, false
	}

	speed, err := parseInt16(fields[0])
	if err != nil {
		return Target{}, false
	}
	x, err := parseInt16(fields[1])
	if err != nil {
		return Target{}, false
	}
	y, err := parseInt16(fields[2])
	if err != nil {
		return Target{}, false
	}

	return Target{Speed: speed, X: x, Y: y}, true
}

func parseInt16(s string) (int16, error) {
	v, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return int16(v), nil
}

// Sample is the derived, publishable projection of a Target (spec.md §3):
// distance is in millimetres, Triggered reflects the recorder's trigger
// policy decision and is always false on the raw projection below.
type Sample struct {
	Speed     int16   `json:"speed"`
	X         int16   `json:"x"`
	Y         int16   `json:"y"`
	Distance  float64 `json:"distance"`
	Triggered bool    `json:"triggered"`
}

// ToSample projects a Target into a Sample with Triggered left false; the
// recorder sets Triggered after applying its trigger policy.
func (t Target) ToSample() Sample {
	return Sample{
		Speed:    t.Speed,
		X:        t.X,
		Y:        t.Y,
		Distance: Distance(t.X, t.Y),
	}
}

// Distance computes the Euclidean distance of (x, y) from the radar, in the
// same millimetre units as x and y.
func Distance(x, y int16) float64 {
	return math.Hypot(float64(x), float64(y))
}
