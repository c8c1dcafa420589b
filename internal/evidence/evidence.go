// Package evidence defines the on-disk infraction record format and the
// photo-before-JSON write ordering the rest of the pipeline depends on.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Infraction is the persisted record for one speeding event (spec.md §3).
type Infraction struct {
	RecordedSpeed   int16     `json:"recorded_speed"`
	AuthorizedSpeed int16     `json:"authorized_speed"`
	Location        string    `json:"location"`
	DatetimeTaken   time.Time `json:"datetime_taken"`
}

// Pair names the two files that make up one evidence pair on disk, both
// named from the RFC-3339 timestamp of DatetimeTaken.
type Pair struct {
	JPEGPath string
	JSONPath string
}

// PairFor computes the Pair path for an infraction's timestamp under dir.
func PairFor(dir string, taken time.Time) Pair {
	stamp := taken.Format(time.RFC3339Nano)
	// RFC-3339 timestamps contain colons, which are awkward path components
	// on most filesystems; swap them for hyphens in the filename only.
	safe := sanitizeStamp(stamp)
	return Pair{
		JPEGPath: filepath.Join(dir, safe+".jpg"),
		JSONPath: filepath.Join(dir, safe+".json"),
	}
}

func sanitizeStamp(stamp string) string {
	out := make([]byte, 0, len(stamp))
	for i := 0; i < len(stamp); i++ {
		switch stamp[i] {
		case ':':
			out = append(out, '-')
		default:
			out = append(out, stamp[i])
		}
	}
	return string(out)
}

// WritePair writes jpeg then json to dir, in that order, so a reader of the
// directory never observes a JSON file whose photo has not been captured
// (spec.md §4.3, §9). Returns the resulting Pair.
func WritePair(dir string, inf Infraction, jpeg []byte) (Pair, error) {
	pair := PairFor(dir, inf.DatetimeTaken)

	if err := os.WriteFile(pair.JPEGPath, jpeg, 0644); err != nil {
		return Pair{}, fmt.Errorf("writing jpeg: %w", err)
	}

	data, err := json.Marshal(inf)
	if err != nil {
		return Pair{}, fmt.Errorf("marshalling infraction: %w", err)
	}
	if err := os.WriteFile(pair.JSONPath, data, 0644); err != nil {
		return Pair{}, fmt.Errorf("writing json: %w", err)
	}

	return pair, nil
}

// WriteJSON writes only the JSON sidecar for inf, assuming its JPEG has
// already been produced at the matching path (the recorder's flow: the
// photographer capability writes the JPEG directly to PairFor(...).JPEGPath,
// then this function lays down the sidecar — preserving the photo-before-
// JSON invariant without a redundant re-write of the JPEG bytes).
func WriteJSON(dir string, inf Infraction) (Pair, error) {
	pair := PairFor(dir, inf.DatetimeTaken)

	data, err := json.Marshal(inf)
	if err != nil {
		return Pair{}, fmt.Errorf("marshalling infraction: %w", err)
	}
	if err := os.WriteFile(pair.JSONPath, data, 0644); err != nil {
		return Pair{}, fmt.Errorf("writing json: %w", err)
	}

	return pair, nil
}

// ReadInfraction reads and unmarshals a Pair's JSON sidecar.
func ReadInfraction(jsonPath string) (Infraction, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Infraction{}, fmt.Errorf("reading infraction json: %w", err)
	}
	var inf Infraction
	if err := json.Unmarshal(data, &inf); err != nil {
		return Infraction{}, fmt.Errorf("parsing infraction json: %w", err)
	}
	return inf, nil
}

// JPEGPathFor returns the sibling JPEG path for a given .json evidence file.
func JPEGPathFor(jsonPath string) string {
	return jsonPath[:len(jsonPath)-len(filepath.Ext(jsonPath))] + ".jpg"
}
