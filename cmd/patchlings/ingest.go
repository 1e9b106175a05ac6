package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/patchlings/patchlings/internal/adapter"
	"github.com/patchlings/patchlings/internal/config"
	"github.com/patchlings/patchlings/internal/engine"
	"github.com/patchlings/patchlings/internal/storage"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a telemetry stream into the workspace world",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := engineOptions()
		if err != nil {
			return err
		}

		eng, unlock, err := buildEngine(opts)
		if err != nil {
			return err
		}
		defer unlock()

		source, err := buildSource()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := source.Run(ctx, eng); err != nil && ctx.Err() == nil {
			return err
		}

		world := eng.World()
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d events across %d runs (%d chapters, %d dropped, %d duplicates)\n",
			world.Counters.Events, len(world.Runs), world.Counters.Chapters,
			world.Counters.DroppedLowValueEvents, world.Counters.DuplicateEvents)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("adapter.source", config.DefaultAdapterSource, "event source: stdin, tail, or demo")
	ingestCmd.Flags().String("adapter.tail_path", "", "file to tail when source is tail")
	ingestCmd.Flags().Int("adapter.demo_runs", 1, "demo runs to synthesize")
	ingestCmd.Flags().Int("adapter.demo_turns", 3, "turns per demo run")
	ingestCmd.Flags().Int64("adapter.demo_seed", 1, "demo stream seed")
}

// buildEngine constructs the engine, holding the workspace lock for fs
// storage so two commands never share a .patchlings directory.
func buildEngine(opts engine.Options) (*engine.Engine, func(), error) {
	unlock := func() {}
	if opts.Storage != "memory" {
		dir := filepath.Join(opts.WorkspaceRoot, dirNameOrDefault(opts.DirName))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
		lock, err := storage.NewFileLock(dir, lockConfig())
		if err != nil {
			return nil, nil, err
		}
		unlock = lock.Unlock
	}

	eng, err := engine.New(opts)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return eng, unlock, nil
}

func buildSource() (adapter.Source, error) {
	switch cfg.Adapter.Source {
	case "stdin":
		return adapter.NewStdinSource(os.Stdin, cfg.Adapter.BatchSize), nil
	case "tail":
		if cfg.Adapter.TailPath == "" {
			return nil, fmt.Errorf("source tail requires adapter.tail_path")
		}
		return adapter.NewTailSource(cfg.Adapter.TailPath, cfg.Adapter.BatchSize), nil
	case "demo":
		return adapter.NewDemoSource(cfg.Adapter.DemoRuns, cfg.Adapter.DemoTurns, cfg.Adapter.DemoSeed, cfg.Adapter.BatchSize), nil
	default:
		return nil, fmt.Errorf("unknown adapter source %q", cfg.Adapter.Source)
	}
}
