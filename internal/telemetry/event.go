package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the only wire schema version currently understood.
const SchemaVersion = 1

// Kind is the categorical class of a telemetry event.
type Kind string

const (
	KindTurn   Kind = "turn"
	KindTool   Kind = "tool"
	KindFile   Kind = "file"
	KindGit    Kind = "git"
	KindTest   Kind = "test"
	KindSpawn  Kind = "spawn"
	KindLog    Kind = "log"
	KindError  Kind = "error"
	KindMetric Kind = "metric"
)

// Kinds lists every valid kind, in wire order.
var Kinds = []Kind{KindTurn, KindTool, KindFile, KindGit, KindTest, KindSpawn, KindLog, KindError, KindMetric}

const (
	SeverityDebug = "debug"
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Turn boundary event names.
const (
	NameTurnStarted   = "turn.started"
	NameTurnCompleted = "turn.completed"
	NameTurnFailed    = "turn.failed"
)

// NameBackpressureSummary is the name of synthesized fold summaries.
const NameBackpressureSummary = "metric.backpressure.summary"

// Event is a single v1 telemetry record. Top-level fields the schema does not
// know about are carried through Unknown so the validator stays
// forward-compatible.
type Event struct {
	V           int
	RunID       string
	Seq         int64
	TS          string
	Kind        Kind
	Name        string
	Severity    string
	Attrs       map[string]any
	Internal    bool
	UpstreamSeq *int64

	Unknown map[string]json.RawMessage
}

var knownFields = map[string]bool{
	"v":            true,
	"run_id":       true,
	"seq":          true,
	"ts":           true,
	"kind":         true,
	"name":         true,
	"severity":     true,
	"attrs":        true,
	"internal":     true,
	"upstream_seq": true,
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	decode := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		return nil
	}

	*e = Event{}
	if err := decode("v", &e.V); err != nil {
		return err
	}
	if err := decode("run_id", &e.RunID); err != nil {
		return err
	}
	if err := decode("seq", &e.Seq); err != nil {
		return err
	}
	if err := decode("ts", &e.TS); err != nil {
		return err
	}
	if err := decode("kind", &e.Kind); err != nil {
		return err
	}
	if err := decode("name", &e.Name); err != nil {
		return err
	}
	if err := decode("severity", &e.Severity); err != nil {
		return err
	}
	if err := decode("attrs", &e.Attrs); err != nil {
		return err
	}
	if err := decode("internal", &e.Internal); err != nil {
		return err
	}
	if err := decode("upstream_seq", &e.UpstreamSeq); err != nil {
		return err
	}

	for key, value := range raw {
		if knownFields[key] {
			continue
		}
		if e.Unknown == nil {
			e.Unknown = make(map[string]json.RawMessage)
		}
		e.Unknown[key] = value
	}
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(knownFields)+len(e.Unknown))

	put := func(key string, value any) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = data
		return nil
	}

	if err := put("v", e.V); err != nil {
		return nil, err
	}
	if err := put("run_id", e.RunID); err != nil {
		return nil, err
	}
	if err := put("seq", e.Seq); err != nil {
		return nil, err
	}
	if err := put("ts", e.TS); err != nil {
		return nil, err
	}
	if err := put("kind", e.Kind); err != nil {
		return nil, err
	}
	if err := put("name", e.Name); err != nil {
		return nil, err
	}
	if e.Severity != "" {
		if err := put("severity", e.Severity); err != nil {
			return nil, err
		}
	}
	if e.Attrs != nil {
		if err := put("attrs", e.Attrs); err != nil {
			return nil, err
		}
	}
	if e.Internal {
		if err := put("internal", e.Internal); err != nil {
			return nil, err
		}
	}
	if e.UpstreamSeq != nil {
		if err := put("upstream_seq", *e.UpstreamSeq); err != nil {
			return nil, err
		}
	}
	for key, value := range e.Unknown {
		if _, taken := out[key]; taken {
			continue
		}
		out[key] = value
	}

	return json.Marshal(out)
}

// UpstreamOrSeq returns the sequence number used for deduplication: the
// explicit upstream_seq when present, otherwise seq.
func (e Event) UpstreamOrSeq() int64 {
	if e.UpstreamSeq != nil {
		return *e.UpstreamSeq
	}
	return e.Seq
}

// IsTurnBoundary reports whether the event opens or terminates a chapter.
func (e Event) IsTurnBoundary() bool {
	switch e.Name {
	case NameTurnStarted, NameTurnCompleted, NameTurnFailed:
		return true
	}
	return false
}

// Time parses the event timestamp.
func (e Event) Time() (time.Time, error) {
	return ParseTS(e.TS)
}

// Millis returns the event timestamp in Unix milliseconds.
func (e Event) Millis() (int64, error) {
	t, err := ParseTS(e.TS)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// ParseTS parses an ISO-8601 timestamp as used on the wire.
func ParseTS(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t, nil
}

// StringAttr returns attrs[key] when it is a non-empty string.
func (e Event) StringAttr(key string) (string, bool) {
	v, ok := e.Attrs[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
