package chapter

import (
	"testing"

	"github.com/patchlings/patchlings/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEvent() telemetry.Event {
	return telemetry.Event{
		V: 1, RunID: "run-1", Seq: 0, TS: "2026-01-01T00:00:00.000Z",
		Kind: telemetry.KindTurn, Name: telemetry.NameTurnStarted,
	}
}

func TestNewOpen(t *testing.T) {
	o := NewOpen("run-1", 1, startEvent())

	assert.Equal(t, "run-1:1", o.ID)
	assert.Equal(t, int64(1), o.TurnIndex)
	assert.Equal(t, "2026-01-01T00:00:00.000Z", o.StartedTS)
	assert.Equal(t, int64(0), o.StartedSeq)
	assert.NotNil(t, o.Files)
	assert.NotNil(t, o.Tools)
}

func TestClose_Summary(t *testing.T) {
	o := NewOpen("run-1", 1, startEvent())
	o.Files["fff"] = struct{}{}
	o.Files["aaa"] = struct{}{}
	o.Files["mmm"] = struct{}{}
	o.Tools["shell"] = 2
	o.Tools["edit"] = 1
	o.TestsPassed = 3
	o.TestsFailed = 1
	o.Errors = 2
	o.DroppedLowValue = 5
	o.SummariesEmitted = 1
	o.PeakEventsPerSec = 9
	o.EventCount = 12

	s := o.Close(StatusCompleted, "2026-01-01T00:00:02.500Z", 40, 120)

	assert.Equal(t, 1, s.V)
	assert.Equal(t, "run-1:1", s.ChapterID)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, int64(2500), s.DurationMS)
	assert.Equal(t, int64(0), s.SeqStart)
	assert.Equal(t, int64(40), s.SeqEnd)
	assert.Equal(t, []string{"aaa", "fff", "mmm"}, s.FilesTouched)
	assert.Equal(t, map[string]int64{"edit": 1, "shell": 2}, s.ToolsUsed)
	assert.Equal(t, TestCounts{Pass: 3, Fail: 1}, s.Tests)
	assert.Equal(t, int64(2), s.Errors)
	assert.Equal(t, Backpressure{
		DroppedLowValue:  5,
		PeakEventsPerSec: 9,
		Threshold:        120,
		SummariesEmitted: 1,
	}, s.Backpressure)
}

func TestClose_DurationClippedAtZero(t *testing.T) {
	o := NewOpen("run-1", 1, startEvent())
	s := o.Close(StatusInterrupted, "2025-12-31T23:59:59.000Z", 1, 120)
	assert.Equal(t, int64(0), s.DurationMS)
}

func TestClose_TitleCarried(t *testing.T) {
	o := NewOpen("run-1", 2, startEvent())
	o.Title = "Prompt abc123"

	s := o.Close(StatusFailed, "2026-01-01T00:00:01.000Z", 9, 120)
	assert.Equal(t, "Prompt abc123", s.Title)
	assert.Equal(t, StatusFailed, s.Status)
}

func TestTracker_OneOpenPerRun(t *testing.T) {
	tr := NewTracker()
	require.Nil(t, tr.Get("run-1"))

	o := NewOpen("run-1", 1, startEvent())
	tr.Put(o)
	assert.Same(t, o, tr.Get("run-1"))
	assert.Nil(t, tr.Get("run-2"))

	tr.Remove("run-1")
	assert.Nil(t, tr.Get("run-1"))
}
