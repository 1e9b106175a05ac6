package backpressure

import (
	"sort"
	"strings"

	"github.com/patchlings/patchlings/internal/telemetry"
)

// lowValueFragments mark event names that are safe to fold under load.
var lowValueFragments = []string{"progress", "delta", "heartbeat"}

// LowValue reports whether an event may be folded into a summary bucket:
// any log event, any debug event, or any progress/delta/heartbeat name.
func LowValue(e telemetry.Event) bool {
	if e.Kind == telemetry.KindLog {
		return true
	}
	if e.Severity == telemetry.SeverityDebug {
		return true
	}
	lower := strings.ToLower(e.Name)
	for _, fragment := range lowValueFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Bucket is one flushed fold: count suppressed events sharing a
// (second, kind, name) cell, stamped with the last timestamp seen.
type Bucket struct {
	Second int64
	Kind   telemetry.Kind
	Name   string
	Count  int
	LastTS string
}

// Decision is the aggregator's verdict for one observed event. Flushed
// buckets must be synthesized into summary events before the observed event
// itself is processed.
type Decision struct {
	Pass    bool
	Count   int
	Flushed []Bucket
}

type bucketKey struct {
	second int64
	kind   telemetry.Kind
	name   string
}

type window struct {
	second    int64
	hasSecond bool
	count     int
	buckets   map[bucketKey]*Bucket
}

// Aggregator tracks per-(run, second) event rates and folds low-value events
// above the threshold into summary buckets.
type Aggregator struct {
	threshold int
	runs      map[string]*window
}

func New(threshold int) *Aggregator {
	return &Aggregator{
		threshold: threshold,
		runs:      make(map[string]*window),
	}
}

// Threshold returns the configured events-per-second threshold.
func (a *Aggregator) Threshold() int {
	return a.threshold
}

// Observe processes one external event. The returned decision carries any
// buckets flushed by a second rollover or a turn boundary, in deterministic
// (second, kind, name) order.
func (a *Aggregator) Observe(e telemetry.Event) (Decision, error) {
	ms, err := e.Millis()
	if err != nil {
		return Decision{}, err
	}
	second := floorSecond(ms)

	w := a.runs[e.RunID]
	if w == nil {
		w = &window{buckets: make(map[bucketKey]*Bucket)}
		a.runs[e.RunID] = w
	}

	var flushed []Bucket
	if e.IsTurnBoundary() {
		flushed = w.flushAll()
	}
	if w.hasSecond && w.second != second {
		flushed = append(flushed, w.flushBelow(second)...)
		w.count = 0
		w.second = second
	}
	if !w.hasSecond {
		w.second = second
		w.hasSecond = true
	}

	// The threshold compares against events already seen this second; the
	// current event is counted either way so the peak reflects offered load.
	prior := w.count
	w.count++

	decision := Decision{Count: w.count, Flushed: flushed}
	if prior <= a.threshold || !LowValue(e) {
		decision.Pass = true
		return decision, nil
	}

	key := bucketKey{second: second, kind: e.Kind, name: e.Name}
	b := w.buckets[key]
	if b == nil {
		b = &Bucket{Second: second, Kind: e.Kind, Name: e.Name}
		w.buckets[key] = b
	}
	b.Count++
	b.LastTS = e.TS
	return decision, nil
}

// FlushRun drains every bucket for a run, in deterministic order. Used on
// stream EOF.
func (a *Aggregator) FlushRun(runID string) []Bucket {
	w := a.runs[runID]
	if w == nil {
		return nil
	}
	return w.flushAll()
}

func (w *window) flushAll() []Bucket {
	return w.flush(func(bucketKey) bool { return true })
}

func (w *window) flushBelow(second int64) []Bucket {
	return w.flush(func(k bucketKey) bool { return k.second < second })
}

func (w *window) flush(match func(bucketKey) bool) []Bucket {
	if len(w.buckets) == 0 {
		return nil
	}

	var out []Bucket
	for key, b := range w.buckets {
		if !match(key) {
			continue
		}
		out = append(out, *b)
		delete(w.buckets, key)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Second != out[j].Second {
			return out[i].Second < out[j].Second
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// floorSecond floors toward negative infinity so pre-epoch timestamps bucket
// consistently.
func floorSecond(ms int64) int64 {
	if ms >= 0 {
		return ms / 1000
	}
	return (ms - 999) / 1000
}
