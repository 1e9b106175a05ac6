package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/patchlings/patchlings/internal/errors"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// wireSchema is the structural contract for a v1 record. Attribute values are
// deliberately unconstrained here: the redactor drops anything non-primitive,
// so a nested value is redacted rather than rejected.
const wireSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["v", "run_id", "seq", "ts", "kind", "name"],
  "properties": {
    "v": {"const": 1},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 0},
    "ts": {"type": "string", "minLength": 1},
    "kind": {"enum": ["turn", "tool", "file", "git", "test", "spawn", "log", "error", "metric"]},
    "name": {"type": "string", "minLength": 1},
    "severity": {"enum": ["debug", "info", "warn", "error"]},
    "attrs": {"type": "object"},
    "internal": {"type": "boolean"},
    "upstream_seq": {"type": "integer", "minimum": 0}
  }
}`

var compiledSchema = jsonschema.MustCompileString("telemetry/v1.json", wireSchema)

// Validate checks a decoded event against the v1 rules, including those the
// wire schema cannot express (timestamp parseability, in particular).
func Validate(e *Event) error {
	if e.V != SchemaVersion {
		return errors.InvalidEvent("unsupported schema version %d", e.V)
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.InvalidEvent("empty run_id")
	}
	if e.Seq < 0 {
		return errors.InvalidEvent("negative seq %d", e.Seq)
	}
	if _, err := ParseTS(e.TS); err != nil {
		return errors.InvalidEvent("unparseable ts %q", e.TS)
	}
	if !validKind(e.Kind) {
		return errors.InvalidEvent("unknown kind %q", e.Kind)
	}
	if e.Name == "" {
		return errors.InvalidEvent("empty name")
	}
	if e.Severity != "" && !validSeverity(e.Severity) {
		return errors.InvalidEvent("unknown severity %q", e.Severity)
	}
	if e.UpstreamSeq != nil && *e.UpstreamSeq < 0 {
		return errors.InvalidEvent("negative upstream_seq %d", *e.UpstreamSeq)
	}
	return nil
}

// Decode parses one wire record, checks it against the JSON schema, and runs
// the struct-level validation. Unknown top-level fields are preserved.
func Decode(line []byte) (Event, error) {
	var generic any
	if err := json.Unmarshal(line, &generic); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errors.ErrInvalidEvent, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errors.ErrInvalidEvent, err)
	}

	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errors.ErrInvalidEvent, err)
	}
	if err := Validate(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}

func validKind(k Kind) bool {
	for _, candidate := range Kinds {
		if k == candidate {
			return true
		}
	}
	return false
}

func validSeverity(s string) bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError:
		return true
	}
	return false
}
