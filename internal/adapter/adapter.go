package adapter

import (
	"context"
	"sort"
	"time"

	"github.com/patchlings/patchlings/internal/engine"
	"github.com/patchlings/patchlings/internal/telemetry"
)

// Sink is the slice of the engine an adapter drives.
type Sink interface {
	IngestBatch(events []telemetry.Event) (*engine.BatchResult, error)
	FlushRunAggregates(runID string) (*engine.BatchResult, error)
}

// Source turns some byte stream into validated event batches and feeds them
// to a sink until the stream ends or the context is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// ErrorRunID is the local run that collects adapter-synthesized error events
// for lines that never made it past validation.
const ErrorRunID = "patchlings.adapter"

// batcher accumulates events, tracks the runs it has seen, and flushes run
// aggregates on EOF. EOF does not close open chapters; a caller wanting
// closure must send a terminal turn event itself.
type batcher struct {
	sink     Sink
	size     int
	pending  []telemetry.Event
	runsSeen map[string]bool
	errorSeq int64
	now      func() time.Time
}

func newBatcher(sink Sink, size int, now func() time.Time) *batcher {
	if size <= 0 {
		size = 256
	}
	if now == nil {
		now = time.Now
	}
	return &batcher{
		sink:     sink,
		size:     size,
		runsSeen: make(map[string]bool),
		now:      now,
	}
}

func (b *batcher) add(e telemetry.Event) error {
	b.pending = append(b.pending, e)
	b.runsSeen[e.RunID] = true
	if len(b.pending) >= b.size {
		return b.flush()
	}
	return nil
}

// addUnparsed records a line that failed validation as a local error event.
func (b *batcher) addUnparsed(reason string) error {
	b.errorSeq++
	return b.add(telemetry.Event{
		V:        telemetry.SchemaVersion,
		RunID:    ErrorRunID,
		Seq:      b.errorSeq,
		TS:       b.now().UTC().Format(time.RFC3339Nano),
		Kind:     telemetry.KindError,
		Name:     "adapter.unparsed_line",
		Severity: telemetry.SeverityWarn,
		Attrs:    map[string]any{"reason": reason},
	})
}

func (b *batcher) flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	_, err := b.sink.IngestBatch(b.pending)
	b.pending = b.pending[:0]
	return err
}

// finish flushes the tail batch and drains aggregates for every run seen,
// in sorted order for determinism.
func (b *batcher) finish() error {
	if err := b.flush(); err != nil {
		return err
	}

	runs := make([]string, 0, len(b.runsSeen))
	for runID := range b.runsSeen {
		runs = append(runs, runID)
	}
	sort.Strings(runs)
	for _, runID := range runs {
		if _, err := b.sink.FlushRunAggregates(runID); err != nil {
			return err
		}
	}
	return nil
}
