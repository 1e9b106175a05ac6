package chapter

import (
	"fmt"
	"sort"

	"github.com/patchlings/patchlings/internal/telemetry"
)

// Status is the terminal state of a closed chapter.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Open is the mutable state of one in-flight chapter. Exactly one may exist
// per run at a time; it is in-memory only and lost on crash.
type Open struct {
	RunID            string
	ID               string
	TurnIndex        int64
	StartedTS        string
	StartedSeq       int64
	LatestTS         string
	LatestSeq        int64
	Title            string
	Files            map[string]struct{}
	Tools            map[string]int64
	TestsPassed      int64
	TestsFailed      int64
	Errors           int64
	DroppedLowValue  int64
	SummariesEmitted int64
	PeakEventsPerSec int
	EventCount       int64
}

// ChapterID formats the id of a run's nth chapter.
func ChapterID(runID string, turnIndex int64) string {
	return fmt.Sprintf("%s:%d", runID, turnIndex)
}

// NewOpen allocates a chapter starting at the given event.
func NewOpen(runID string, turnIndex int64, e telemetry.Event) *Open {
	return &Open{
		RunID:      runID,
		ID:         ChapterID(runID, turnIndex),
		TurnIndex:  turnIndex,
		StartedTS:  e.TS,
		StartedSeq: e.Seq,
		LatestTS:   e.TS,
		LatestSeq:  e.Seq,
		Files:      make(map[string]struct{}),
		Tools:      make(map[string]int64),
	}
}

// Touch advances the chapter's latest position.
func (o *Open) Touch(e telemetry.Event) {
	o.LatestTS = e.TS
	o.LatestSeq = e.Seq
}

// Summary is the immutable record of a closed chapter.
type Summary struct {
	V            int              `json:"v"`
	RunID        string           `json:"run_id"`
	ChapterID    string           `json:"chapter_id"`
	TurnIndex    int64            `json:"turn_index"`
	Status       Status           `json:"status"`
	StartedTS    string           `json:"started_ts"`
	CompletedTS  string           `json:"completed_ts"`
	DurationMS   int64            `json:"duration_ms"`
	SeqStart     int64            `json:"seq_start"`
	SeqEnd       int64            `json:"seq_end"`
	FilesTouched []string         `json:"files_touched"`
	ToolsUsed    map[string]int64 `json:"tools_used"`
	Tests        TestCounts       `json:"tests"`
	Errors       int64            `json:"errors"`
	Backpressure Backpressure     `json:"backpressure"`
	Title        string           `json:"title,omitempty"`
}

type TestCounts struct {
	Pass int64 `json:"pass"`
	Fail int64 `json:"fail"`
}

type Backpressure struct {
	DroppedLowValue  int64 `json:"dropped_low_value"`
	PeakEventsPerSec int   `json:"peak_events_per_sec"`
	Threshold        int   `json:"threshold"`
	SummariesEmitted int64 `json:"summaries_emitted"`
}

// Close converts the open chapter into its immutable summary. completedTS
// and seqEnd come from the terminating event; threshold is copied from the
// engine configuration for forensic clarity.
func (o *Open) Close(status Status, completedTS string, seqEnd int64, threshold int) Summary {
	files := make([]string, 0, len(o.Files))
	for id := range o.Files {
		files = append(files, id)
	}
	sort.Strings(files)

	tools := make(map[string]int64, len(o.Tools))
	for name, count := range o.Tools {
		tools[name] = count
	}

	return Summary{
		V:            1,
		RunID:        o.RunID,
		ChapterID:    o.ID,
		TurnIndex:    o.TurnIndex,
		Status:       status,
		StartedTS:    o.StartedTS,
		CompletedTS:  completedTS,
		DurationMS:   durationMS(o.StartedTS, completedTS),
		SeqStart:     o.StartedSeq,
		SeqEnd:       seqEnd,
		FilesTouched: files,
		ToolsUsed:    tools,
		Tests:        TestCounts{Pass: o.TestsPassed, Fail: o.TestsFailed},
		Errors:       o.Errors,
		Backpressure: Backpressure{
			DroppedLowValue:  o.DroppedLowValue,
			PeakEventsPerSec: o.PeakEventsPerSec,
			Threshold:        threshold,
			SummariesEmitted: o.SummariesEmitted,
		},
		Title: o.Title,
	}
}

func durationMS(started, completed string) int64 {
	start, err := telemetry.ParseTS(started)
	if err != nil {
		return 0
	}
	end, err := telemetry.ParseTS(completed)
	if err != nil {
		return 0
	}
	d := end.UnixMilli() - start.UnixMilli()
	if d < 0 {
		return 0
	}
	return d
}

// Tracker holds the at-most-one open chapter per run.
type Tracker struct {
	open map[string]*Open
}

func NewTracker() *Tracker {
	return &Tracker{open: make(map[string]*Open)}
}

// Get returns the open chapter for a run, or nil.
func (t *Tracker) Get(runID string) *Open {
	return t.open[runID]
}

// Put installs the open chapter for a run.
func (t *Tracker) Put(o *Open) {
	t.open[o.RunID] = o
}

// Remove forgets the open chapter for a run.
func (t *Tracker) Remove(runID string) {
	delete(t.open, runID)
}
