package adapter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/patchlings/patchlings/internal/engine"
	"github.com/patchlings/patchlings/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures everything an adapter sends. It is mutex-guarded so
// the tail test can poll it while the source goroutine runs.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]telemetry.Event
	flushed []string
}

func (s *recordingSink) IngestBatch(events []telemetry.Event) (*engine.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]telemetry.Event, len(events))
	copy(copied, events)
	s.batches = append(s.batches, copied)
	return &engine.BatchResult{}, nil
}

func (s *recordingSink) FlushRunAggregates(runID string) (*engine.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = append(s.flushed, runID)
	return &engine.BatchResult{}, nil
}

func (s *recordingSink) all() []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, batch := range s.batches {
		out = append(out, batch...)
	}
	return out
}

func (s *recordingSink) flushedRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.flushed...)
}

func TestStdinSource_ValidLines(t *testing.T) {
	input := strings.Join([]string{
		`{"v":1,"run_id":"run-1","seq":0,"ts":"2026-01-01T00:00:00Z","kind":"turn","name":"turn.started"}`,
		``,
		`{"v":1,"run_id":"run-1","seq":1,"ts":"2026-01-01T00:00:00Z","kind":"turn","name":"turn.completed"}`,
	}, "\n")

	sink := &recordingSink{}
	src := NewStdinSource(strings.NewReader(input), 10)
	require.NoError(t, src.Run(context.Background(), sink))

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, telemetry.NameTurnStarted, events[0].Name)
	assert.Equal(t, []string{"run-1"}, sink.flushed)
}

func TestStdinSource_UnparsedLineSynthesizesError(t *testing.T) {
	input := strings.Join([]string{
		`{"v":1,"run_id":"run-1","seq":0,"ts":"2026-01-01T00:00:00Z","kind":"log","name":"log.line"}`,
		`this is not json`,
		`{"v":1,"run_id":"run-1","seq":"bad","ts":"2026-01-01T00:00:00Z","kind":"log","name":"log.line"}`,
	}, "\n")

	sink := &recordingSink{}
	src := NewStdinSource(strings.NewReader(input), 10)
	require.NoError(t, src.Run(context.Background(), sink))

	events := sink.all()
	require.Len(t, events, 3)

	var synthesized []telemetry.Event
	for _, e := range events {
		if e.Name == "adapter.unparsed_line" {
			synthesized = append(synthesized, e)
		}
	}
	require.Len(t, synthesized, 2)
	for _, e := range synthesized {
		assert.Equal(t, ErrorRunID, e.RunID)
		assert.Equal(t, telemetry.KindError, e.Kind)
		assert.NotEmpty(t, e.Attrs["reason"])
	}
	assert.Equal(t, int64(1), synthesized[0].Seq)
	assert.Equal(t, int64(2), synthesized[1].Seq)

	assert.Equal(t, []string{ErrorRunID, "run-1"}, sink.flushed)
}

func TestStdinSource_BatchSizeSplits(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, `{"v":1,"run_id":"run-1","seq":`+string(rune('0'+i))+`,"ts":"2026-01-01T00:00:00Z","kind":"log","name":"log.line"}`)
	}

	sink := &recordingSink{}
	src := NewStdinSource(strings.NewReader(strings.Join(lines, "\n")), 2)
	require.NoError(t, src.Run(context.Background(), sink))

	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 2)
	assert.Len(t, sink.batches[2], 1)
}

func TestDemoSource_DeterministicWithSeed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	run := func() []telemetry.Event {
		sink := &recordingSink{}
		src := NewDemoSource(2, 2, 42, 64)
		src.Start = start
		require.NoError(t, src.Run(context.Background(), sink))
		return sink.all()
	}

	first := run()
	second := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)

	// Every generated event passes validation.
	for i := range first {
		require.NoError(t, telemetry.Validate(&first[i]))
	}

	// Turn boundaries come in matched pairs per run.
	starts, stops := 0, 0
	for _, e := range first {
		switch e.Name {
		case telemetry.NameTurnStarted:
			starts++
		case telemetry.NameTurnCompleted, telemetry.NameTurnFailed:
			stops++
		}
	}
	assert.Equal(t, 4, starts)
	assert.Equal(t, 4, stops)
}

func TestDemoSource_DifferentSeedsDiffer(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	gen := func(seed int64) []telemetry.Event {
		sink := &recordingSink{}
		src := NewDemoSource(1, 1, seed, 64)
		src.Start = start
		require.NoError(t, src.Run(context.Background(), sink))
		return sink.all()
	}

	assert.NotEqual(t, gen(1), gen(2))
}
