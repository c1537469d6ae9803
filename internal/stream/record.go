// Package stream broadcasts readings to WebSocket consumers. Every client
// gets its own writer goroutine and bounded mailbox, so one slow or broken
// consumer never delays the others.
package stream

import (
	"encoding/json"
	"time"

	"github.com/srg/pulsebridge/internal/sink"
)

// Record is the wire message sent once per tick. Consumers must tolerate
// fields they do not know.
type Record struct {
	BPM       float64 `json:"bpm"`
	SpO2      float64 `json:"spo2"`
	IR        int     `json:"ir"`
	Red       int     `json:"red"`
	Timestamp float64 `json:"timestamp"` // seconds since the Unix epoch
	HRStd     float64 `json:"hrstd"`
	RMSSD     float64 `json:"rmssd"`
	Seq       uint64  `json:"seq"`
}

// NewRecord builds the wire record for t. The timestamp is the publish time.
func NewRecord(t sink.Tick) Record {
	return Record{
		BPM:       t.Sample.BPM,
		SpO2:      t.Sample.SpO2,
		IR:        t.Sample.RawIR,
		Red:       t.Sample.RawRed,
		Timestamp: epochSeconds(t.At),
		HRStd:     t.Metrics.Std,
		RMSSD:     t.Metrics.RMSSD,
		Seq:       t.Seq,
	}
}

// Time converts Timestamp back to a time.Time.
func (r Record) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Marshal encodes the record as a JSON text frame payload.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixNano()) / 1e9
}
