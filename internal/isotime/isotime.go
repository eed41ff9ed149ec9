// Package isotime renders an ISO-8601-shaped timestamp for log framing.
//
// Known quirk, preserved intentionally: the rendered value is local
// wall-clock time, but it is suffixed with "Z" as if it were UTC. This
// mislabels any deployment not running in UTC. It's kept rather than
// silently "fixed", since a downstream consumer may already depend on
// the observed behavior.
package isotime

import (
	"encoding/json"
	"time"
)

// Timestamp captures a single instant and renders it lazily.
type Timestamp struct {
	t time.Time
}

// Now captures the current local wall-clock time.
func Now() Timestamp {
	return Timestamp{t: time.Now()}
}

// String renders "YYYY-MM-DDTHH:MM:SS.<9-digit-nanos>Z" in local time.
func (ts Timestamp) String() string {
	return ts.t.Format("2006-01-02T15:04:05.000000000") + "Z"
}

// Time returns the underlying time.Time, for callers that need to compute
// durations or compare instants rather than render them.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// MarshalJSON renders the same string String does, so SandboxInfo and
// ContainerInfo survive a trip over internal/ipcproto's JSON envelope.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

// UnmarshalJSON parses the layout String renders, ignoring the "Z"
// suffix's (incorrect) UTC implication and decoding it as local time,
// the same quirk String encodes.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = s[:len(s)-1] // drop the trailing "Z"
	t, err := time.ParseInLocation("2006-01-02T15:04:05.000000000", s, time.Local)
	if err != nil {
		return err
	}
	ts.t = t
	return nil
}
