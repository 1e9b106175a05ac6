package engine

import (
	"sort"
	"strings"

	"github.com/patchlings/patchlings/internal/chapter"
	"github.com/patchlings/patchlings/internal/salt"
	"github.com/patchlings/patchlings/internal/telemetry"
	"github.com/patchlings/patchlings/internal/world"
)

// reduce applies one accepted event to the world and the run's open chapter.
// It returns any chapters the event closed, in close order.
func (e *Engine) reduce(ev telemetry.Event) []chapter.Summary {
	run := e.world.EnsureRun(ev.RunID)
	run.LastTS = ev.TS
	run.EventCount++
	e.world.Counters.Events++
	e.world.UpdatedAt = ev.TS

	if ev.Kind == telemetry.KindTurn {
		switch ev.Name {
		case telemetry.NameTurnStarted:
			return e.startChapter(ev, run)
		case telemetry.NameTurnCompleted:
			return e.closeOpenChapter(ev, run, chapter.StatusCompleted)
		case telemetry.NameTurnFailed:
			return e.closeOpenChapter(ev, run, chapter.StatusFailed)
		}
	}

	open := e.tracker.Get(ev.RunID)
	if open == nil {
		open = chapter.NewOpen(ev.RunID, run.ChapterCount+1, ev)
		e.tracker.Put(open)
	}
	open.EventCount++
	open.Touch(ev)

	switch ev.Kind {
	case telemetry.KindTool:
		run.ToolInvocations++
		toolName := resolveToolName(ev)
		open.Tools[toolName]++
		e.world.EnsurePatchling(salt.Hash(toolName, e.salts.WorkspaceSalt())).Invocations++

	case telemetry.KindFile:
		e.reduceFile(ev, run, open)

	case telemetry.KindTest:
		lower := strings.ToLower(ev.Name)
		if strings.Contains(lower, "pass") {
			run.TestsPassed++
			open.TestsPassed++
		} else if strings.Contains(lower, "fail") {
			run.TestsFailed++
			open.TestsFailed++
		}
	}

	// An error-kind event and an error-severity event count the same; one
	// event never counts twice.
	if ev.Kind == telemetry.KindError || ev.Severity == telemetry.SeverityError {
		run.Errors++
		open.Errors++
	}

	return nil
}

// startChapter interrupts any open chapter and allocates the next one.
func (e *Engine) startChapter(ev telemetry.Event, run *world.Run) []chapter.Summary {
	var closed []chapter.Summary
	if open := e.tracker.Get(ev.RunID); open != nil {
		closed = append(closed, e.finalizeChapter(open, run, chapter.StatusInterrupted, ev.TS, ev.Seq))
	}

	next := chapter.NewOpen(ev.RunID, run.ChapterCount+1, ev)
	next.EventCount = 1 // the start event itself
	next.Title = deriveTitle(ev.Attrs)
	e.tracker.Put(next)
	return closed
}

func (e *Engine) closeOpenChapter(ev telemetry.Event, run *world.Run, status chapter.Status) []chapter.Summary {
	open := e.tracker.Get(ev.RunID)
	if open == nil {
		return nil
	}
	return []chapter.Summary{e.finalizeChapter(open, run, status, ev.TS, ev.Seq)}
}

func (e *Engine) finalizeChapter(open *chapter.Open, run *world.Run, status chapter.Status, completedTS string, seqEnd int64) chapter.Summary {
	summary := open.Close(status, completedTS, seqEnd, e.opts.Threshold)
	e.tracker.Remove(open.RunID)

	run.ChapterCount++
	e.world.Counters.Chapters++

	e.chapters = append(e.chapters, summary)
	if overflow := len(e.chapters) - e.opts.MaxChaptersInMemory; overflow > 0 {
		e.chapters = e.chapters[overflow:]
	}

	e.schedule("chapter", func() error {
		return e.store.AppendChapter(summary)
	})
	return summary
}

func (e *Engine) reduceFile(ev telemetry.Event, run *world.Run, open *chapter.Open) {
	pathID, regionID := resolveFileIDs(ev.Attrs)
	if pathID == "" {
		return
	}
	if regionID == "" {
		regionID = world.RegionUnknown
	}

	f, created := e.world.EnsureFile(pathID, regionID)
	region := e.world.EnsureRegion(f.RegionID)
	if created {
		region.FileCount++
	}
	region.Touches++
	f.Touches++
	f.LastEvent = ev.Name

	run.FileTouches++
	open.Files[pathID] = struct{}{}
}

// resolveToolName picks the tool identity from attrs, falling back to the
// event name.
func resolveToolName(ev telemetry.Event) string {
	for _, key := range []string{"tool_name", "tool", "adapter_tool"} {
		if s, ok := ev.StringAttr(key); ok {
			return s
		}
	}
	return ev.Name
}

// resolveFileIDs scans redacted attrs for the file and region identity.
// Stable (workspace-salted) hashes win over per-run hashes; keys are scanned
// in sorted order so the choice is deterministic.
func resolveFileIDs(attrs map[string]any) (pathID, regionID string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pick := func(match func(string) bool) string {
		for _, k := range keys {
			if !match(k) {
				continue
			}
			if s, ok := attrs[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}

	pathID = pick(func(k string) bool {
		return strings.HasSuffix(k, "_stable_hash") && !strings.HasSuffix(k, "_stable_dir_hash")
	})
	if pathID == "" {
		pathID = pick(func(k string) bool {
			return strings.HasSuffix(k, "_hash") && !strings.HasSuffix(k, "_dir_hash") &&
				!strings.HasSuffix(k, "_stable_hash") && strings.Contains(k, "path")
		})
	}

	regionID = pick(func(k string) bool {
		return strings.HasSuffix(k, "_stable_dir_hash")
	})
	if regionID == "" {
		regionID = pick(func(k string) bool {
			return strings.HasSuffix(k, "_dir_hash") && !strings.HasSuffix(k, "_stable_dir_hash") &&
				strings.Contains(k, "path")
		})
	}
	return pathID, regionID
}

// deriveTitle builds a safe chapter title from already-redacted attrs: a
// hashed prompt identifier, else a short free-form label. Raw prompt text
// never reaches this point; the redactor drops it.
func deriveTitle(attrs map[string]any) string {
	for _, key := range []string{"prompt_hash", "prompt_stable_hash", "prompt_id"} {
		if v, ok := attrs[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return "Prompt " + s
			}
		}
	}
	for _, key := range []string{"label", "turn_label"} {
		if v, ok := attrs[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
