package metrics

import (
	"encoding/json"
	"time"
)

// Namespace prefixes every metric key emitted by this service.
const Namespace = "postgresql"

// Record is the canonical metric unit, following the Metrics 2.0
// conventions (http://metrics20.org/). One record serializes to one
// JSON line on console output, or to one UDP datagram payload on push.
type Record struct {
	Key       string            `json:"key"`
	Value     float64           `json:"value"`
	Timestamp int64             `json:"timestamp"` // epoch millis
	Tags      map[string]string `json:"tags"`
}

// New builds a record with the given key suffix under the namespace.
func New(what string, value float64, at time.Time, tags map[string]string) Record {
	return Record{
		Key:       Namespace + "." + what,
		Value:     value,
		Timestamp: at.UnixMilli(),
		Tags:      tags,
	}
}

// Encode serializes the record to its canonical JSON form, without a
// trailing newline.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Decode parses a canonical JSON line back into a record.
func Decode(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}

// Rate computes the per-second rate between two cumulative counter
// samples. A zero elapsed time yields 0 rather than a division error.
func Rate(previous, current float64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return (current - previous) / seconds
}
