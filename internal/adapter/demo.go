package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/patchlings/patchlings/internal/telemetry"

	"github.com/oklog/ulid/v2"
)

// DemoSource synthesizes a plausible telemetry stream: turns with tool and
// file activity, test results, the occasional failure, and log floods dense
// enough to exercise backpressure. The same seed and start time reproduce
// the same stream.
type DemoSource struct {
	runs      int
	turns     int
	seed      int64
	batchSize int

	// Start pins the stream's time base; zero means wall clock.
	Start time.Time
}

func NewDemoSource(runs, turns int, seed int64, batchSize int) *DemoSource {
	if runs <= 0 {
		runs = 1
	}
	if turns <= 0 {
		turns = 3
	}
	return &DemoSource{runs: runs, turns: turns, seed: seed, batchSize: batchSize}
}

func (d *DemoSource) Run(ctx context.Context, sink Sink) error {
	rng := rand.New(rand.NewSource(d.seed))
	entropy := ulid.Monotonic(rng, 0)

	start := d.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}

	b := newBatcher(sink, d.batchSize, func() time.Time { return start })

	files := []string{"src/a.ts", "src/b.ts", "lib/util.go", "cmd/main.go", "docs/notes.md"}
	tools := []string{"shell", "edit", "search", "fetch"}

	for r := 0; r < d.runs; r++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		runID := "demo-" + ulid.MustNew(ulid.Timestamp(start), entropy).String()
		clock := start
		seq := int64(0)

		emit := func(kind telemetry.Kind, name string, severity string, attrs map[string]any) error {
			e := telemetry.Event{
				V: telemetry.SchemaVersion, RunID: runID, Seq: seq,
				TS:   clock.Format("2006-01-02T15:04:05.000Z07:00"),
				Kind: kind, Name: name, Severity: severity, Attrs: attrs,
			}
			seq++
			return b.add(e)
		}

		for turn := 0; turn < d.turns; turn++ {
			if err := emit(telemetry.KindTurn, telemetry.NameTurnStarted, "", map[string]any{
				"prompt_hash": fmt.Sprintf("%012x", rng.Int63()&0xffffffffffff),
			}); err != nil {
				return err
			}

			steps := 2 + rng.Intn(4)
			for i := 0; i < steps; i++ {
				tool := tools[rng.Intn(len(tools))]
				file := files[rng.Intn(len(files))]
				if err := emit(telemetry.KindTool, "tool."+tool+".start", "", map[string]any{"tool_name": tool}); err != nil {
					return err
				}
				if err := emit(telemetry.KindFile, "file.write", "", map[string]any{"path": file}); err != nil {
					return err
				}
				clock = clock.Add(time.Duration(50+rng.Intn(200)) * time.Millisecond)
			}

			// A burst of progress noise inside one second.
			flood := 20 + rng.Intn(180)
			for i := 0; i < flood; i++ {
				if err := emit(telemetry.KindLog, "log.progress", telemetry.SeverityDebug, nil); err != nil {
					return err
				}
			}
			clock = clock.Add(time.Second)

			if rng.Intn(5) == 0 {
				if err := emit(telemetry.KindTest, "test.fail", "", nil); err != nil {
					return err
				}
				if err := emit(telemetry.KindTurn, telemetry.NameTurnFailed, "", nil); err != nil {
					return err
				}
			} else {
				if err := emit(telemetry.KindTest, "test.pass", "", nil); err != nil {
					return err
				}
				if err := emit(telemetry.KindTurn, telemetry.NameTurnCompleted, "", nil); err != nil {
					return err
				}
			}
			clock = clock.Add(time.Second)
		}
	}

	return b.finish()
}
