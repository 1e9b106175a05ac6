package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/patchlings/patchlings/internal/backpressure"
	"github.com/patchlings/patchlings/internal/chapter"
	"github.com/patchlings/patchlings/internal/redact"
	"github.com/patchlings/patchlings/internal/salt"
	"github.com/patchlings/patchlings/internal/storage"
	"github.com/patchlings/patchlings/internal/telemetry"
	"github.com/patchlings/patchlings/internal/world"
)

const (
	DefaultDirName             = ".patchlings"
	DefaultThreshold           = 120
	DefaultMaxChaptersInMemory = 500
	DefaultMaxRecordingBytes   = 2 * 1024 * 1024
)

// Options configure a new engine. Fixed salts pin identifiers across
// machines; tests and replay fixtures rely on them.
type Options struct {
	WorkspaceRoot       string
	DirName             string
	Threshold           int
	Record              bool
	Storage             string // "fs" or "memory"
	MaxChaptersInMemory int
	MaxRecordingBytes   int64
	FixedWorkspaceSalt  string
	FixedRunSalts       map[string]string
	AllowContent        bool
	Now                 func() time.Time

	// Store overrides the storage selection, for tests.
	Store storage.Store
}

func (o *Options) normalize() {
	if o.DirName == "" {
		o.DirName = DefaultDirName
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Storage == "" {
		o.Storage = "fs"
	}
	if o.MaxChaptersInMemory <= 0 {
		o.MaxChaptersInMemory = DefaultMaxChaptersInMemory
	}
	if o.MaxRecordingBytes <= 0 {
		o.MaxRecordingBytes = DefaultMaxRecordingBytes
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// BatchResult is what one ingest (or flush) call produced. Accepted events
// are in submission order, with synthesized summaries preceding the event
// that triggered their flush. Closed chapters are in close order.
type BatchResult struct {
	AcceptedEvents         []telemetry.Event
	ClosedChapters         []chapter.Summary
	DroppedLowValueEvents  int64
	DroppedDuplicateEvents int64
	World                  *world.World
}

// Engine is the single-writer telemetry ingestion pipeline. All methods must
// be called from one serial context; the engine exclusively owns its world
// document and open-chapter state.
type Engine struct {
	opts     Options
	store    storage.Store
	salts    *salt.Manager
	agg      *backpressure.Aggregator
	world    *world.World
	tracker  *chapter.Tracker
	chapters []chapter.Summary
	pending  []pendingWrite
}

type pendingWrite struct {
	label string
	fn    func() error
}

// New loads (or initializes) durable state and returns a ready engine. The
// loaded world is normalized and rewritten so legacy documents pick up the
// current shape.
func New(opts Options) (*Engine, error) {
	opts.normalize()

	store := opts.Store
	if store == nil {
		switch opts.Storage {
		case "memory":
			store = storage.NewMemory()
		case "fs":
			fs, err := storage.NewFS(opts.WorkspaceRoot, opts.DirName)
			if err != nil {
				return nil, err
			}
			store = fs
		default:
			return nil, fmt.Errorf("unknown storage mode %q", opts.Storage)
		}
	}

	persistedSalts, err := store.LoadSalts()
	if err != nil {
		slog.Warn("Failed to load salts, starting fresh", "error", err)
		persistedSalts = nil
	}
	salts, err := salt.NewManager(salt.Options{
		FixedWorkspaceSalt: opts.FixedWorkspaceSalt,
		FixedRunSalts:      opts.FixedRunSalts,
		Now:                opts.Now,
	}, persistedSalts)
	if err != nil {
		return nil, err
	}

	w, err := store.LoadWorld()
	if err != nil {
		slog.Warn("Failed to load world, starting fresh", "error", err)
		w = nil
	}
	if w == nil {
		w = world.New(salts.WorkspaceID(opts.WorkspaceRoot), opts.Now())
	}
	w.Normalize()

	chapters, err := store.LoadChapters(opts.MaxChaptersInMemory)
	if err != nil {
		slog.Warn("Failed to load chapters, starting empty", "error", err)
		chapters = nil
	}

	e := &Engine{
		opts:     opts,
		store:    store,
		salts:    salts,
		agg:      backpressure.New(opts.Threshold),
		world:    w,
		tracker:  chapter.NewTracker(),
		chapters: chapters,
	}

	// Rewrite normalized state so the on-disk shape is current from the
	// first batch onward.
	if err := store.SaveWorld(w); err != nil {
		slog.Warn("Failed to rewrite world on startup", "error", err)
	}
	if salts.Dirty() {
		if err := store.SaveSalts(salts.Snapshot()); err != nil {
			slog.Warn("Failed to persist salts on startup", "error", err)
		}
	}

	return e, nil
}

// IngestBatch runs every event through the pipeline: redact, backpressure,
// dedup, reduce, persist. Per-event problems never abort the batch.
func (e *Engine) IngestBatch(events []telemetry.Event) (*BatchResult, error) {
	res := &BatchResult{}
	for _, ev := range events {
		e.processExternal(ev, res)
	}
	e.finishBatch(res)
	return res, nil
}

// FlushRunAggregates drains any buffered summary buckets for a run, used by
// adapters on stream EOF. It does not close an open chapter; callers wanting
// closure must synthesize a terminal turn event.
func (e *Engine) FlushRunAggregates(runID string) (*BatchResult, error) {
	res := &BatchResult{}
	buckets := e.agg.FlushRun(runID)
	if len(buckets) > 0 {
		redactor, err := e.redactorFor(runID)
		if err != nil {
			slog.Warn("Dropping flushed buckets without a run salt", "run", runID, "error", err)
		} else {
			run := e.world.EnsureRun(runID)
			for _, b := range buckets {
				e.emitSummary(runID, run, b, redactor, res)
			}
		}
	}
	e.finishBatch(res)
	return res, nil
}

func (e *Engine) processExternal(ev telemetry.Event, res *BatchResult) {
	if err := telemetry.Validate(&ev); err != nil {
		slog.Warn("Skipping invalid event", "run", ev.RunID, "seq", ev.Seq, "error", err)
		return
	}

	redactor, err := e.redactorFor(ev.RunID)
	if err != nil {
		slog.Warn("Skipping event without a run salt", "run", ev.RunID, "error", err)
		return
	}
	ev.Attrs = redactor.Attrs(ev.Attrs)

	run := e.world.EnsureRun(ev.RunID)

	decision, err := e.agg.Observe(ev)
	if err != nil {
		slog.Warn("Skipping event with unusable timestamp", "run", ev.RunID, "seq", ev.Seq, "error", err)
		return
	}

	for _, b := range decision.Flushed {
		e.emitSummary(ev.RunID, run, b, redactor, res)
	}

	if decision.Count > run.PeakEventsPerSec {
		run.PeakEventsPerSec = decision.Count
	}
	if open := e.tracker.Get(ev.RunID); open != nil && decision.Count > open.PeakEventsPerSec {
		open.PeakEventsPerSec = decision.Count
	}

	if !decision.Pass {
		run.DroppedLowValue++
		e.world.Counters.DroppedLowValueEvents++
		if open := e.tracker.Get(ev.RunID); open != nil {
			open.DroppedLowValue++
		}
		res.DroppedLowValueEvents++
		return
	}

	upstream := ev.UpstreamOrSeq()
	if upstream <= run.LastUpstreamSeq {
		run.Duplicates++
		e.world.Counters.DuplicateEvents++
		res.DroppedDuplicateEvents++
		return
	}
	run.LastUpstreamSeq = upstream
	if ev.Seq > run.InternalSeq {
		run.InternalSeq = ev.Seq
	}

	closed := e.reduce(ev)
	res.ClosedChapters = append(res.ClosedChapters, closed...)
	res.AcceptedEvents = append(res.AcceptedEvents, ev)
	e.record(ev.RunID, run, ev)
}

// emitSummary synthesizes one backpressure summary event from a flushed
// bucket and feeds it straight to the reducer, bypassing dedup.
func (e *Engine) emitSummary(runID string, run *world.Run, b backpressure.Bucket, redactor *redact.Redactor, res *BatchResult) {
	ev := telemetry.Event{
		V:        telemetry.SchemaVersion,
		RunID:    runID,
		Seq:      run.NextInternalSeq(),
		TS:       b.LastTS,
		Kind:     telemetry.KindMetric,
		Name:     telemetry.NameBackpressureSummary,
		Severity: telemetry.SeverityInfo,
		Internal: true,
		Attrs: map[string]any{
			"patchlings_internal": true,
			"second":              b.Second,
			"source_kind":         string(b.Kind),
			"source_name":         b.Name,
			"count":               b.Count,
			"threshold":           e.opts.Threshold,
		},
	}
	if run.LastUpstreamSeq >= 0 {
		upstream := run.LastUpstreamSeq
		ev.UpstreamSeq = &upstream
	}
	ev.Attrs = redactor.Attrs(ev.Attrs)

	closed := e.reduce(ev)
	res.ClosedChapters = append(res.ClosedChapters, closed...)

	if open := e.tracker.Get(runID); open != nil {
		open.SummariesEmitted++
	}
	e.world.Counters.BackpressureSummaries++

	res.AcceptedEvents = append(res.AcceptedEvents, ev)
	e.record(runID, run, ev)
}

func (e *Engine) redactorFor(runID string) (*redact.Redactor, error) {
	runSalt, err := e.salts.RunSalt(runID)
	if err != nil {
		return nil, err
	}
	return redact.New(runSalt, e.salts.WorkspaceSalt(), e.opts.AllowContent), nil
}

// record appends an accepted event to the run's recording, rotating when the
// next line would exceed the size cap.
func (e *Engine) record(runID string, run *world.Run, ev telemetry.Event) {
	if !e.opts.Record {
		return
	}
	line, err := ev.MarshalJSON()
	if err != nil {
		slog.Warn("Failed to encode recording line", "run", runID, "error", err)
		return
	}

	lineLen := int64(len(line)) + 1
	if run.RecordingBytes > 0 && run.RecordingBytes+lineLen > e.opts.MaxRecordingBytes {
		run.RecordingIndex++
		run.RecordingBytes = 0
	}
	run.RecordingBytes += lineLen

	index := run.RecordingIndex
	e.schedule("recording", func() error {
		return e.store.AppendRecording(runID, index, line)
	})
}

func (e *Engine) schedule(label string, fn func() error) {
	e.pending = append(e.pending, pendingWrite{label: label, fn: fn})
}

// finishBatch persists world and salts, then settles the pending-writes
// queue. Individual write failures are logged and tolerated; they never
// poison the engine or propagate to the caller.
func (e *Engine) finishBatch(res *BatchResult) {
	e.schedule("world", func() error {
		return e.store.SaveWorld(e.world)
	})
	if e.salts.Dirty() {
		snapshot := e.salts.Snapshot()
		e.schedule("salts", func() error {
			return e.store.SaveSalts(snapshot)
		})
	}

	for _, pw := range e.pending {
		if err := pw.fn(); err != nil {
			slog.Warn("Persistence write failed", "write", pw.label, "error", err)
		}
	}
	e.pending = e.pending[:0]

	res.World = e.world
}

// World returns the live world document.
func (e *Engine) World() *world.World {
	return e.world
}

// Chapters returns up to limit of the most recent chapter summaries, oldest
// first. limit <= 0 returns everything in memory.
func (e *Engine) Chapters(limit int) []chapter.Summary {
	out := e.chapters
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	copied := make([]chapter.Summary, len(out))
	copy(copied, out)
	return copied
}

// ChaptersByRun filters the in-memory chapter log to one run.
func (e *Engine) ChaptersByRun(runID string, limit int) []chapter.Summary {
	var out []chapter.Summary
	for _, s := range e.chapters {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// WorkspaceSalt exposes the workspace salt for operators pinning identifiers.
func (e *Engine) WorkspaceSalt() string {
	return e.salts.WorkspaceSalt()
}

// RunSalt returns (minting if needed) the salt for a run.
func (e *Engine) RunSalt(runID string) (string, error) {
	return e.salts.RunSalt(runID)
}

// Threshold returns the configured events-per-second threshold.
func (e *Engine) Threshold() int {
	return e.opts.Threshold
}

func (e *Engine) PatchlingsDir() string {
	return e.store.PatchlingsDir()
}

func (e *Engine) StoryDir() string {
	return e.store.StoryDir()
}

func (e *Engine) RecordingsDir() string {
	return e.store.RecordingsDir()
}
