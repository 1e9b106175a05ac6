package main

import (
	"fmt"
	"os"

	"github.com/patchlings/patchlings/internal/config"
	"github.com/patchlings/patchlings/internal/engine"
	"github.com/patchlings/patchlings/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "patchlings",
	Short: "Patchlings telemetry engine",
	Long:  `Patchlings ingests agent telemetry, redacts it, and maintains a durable world state with chaptered turn summaries.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.patchlings/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("engine.workspace_root", "", "workspace root directory (default is the current directory)")
	rootCmd.PersistentFlags().Int("engine.events_per_sec_threshold", config.DefaultEngineThreshold, "per-second backpressure threshold")
	rootCmd.PersistentFlags().Bool("engine.record_telemetry", false, "append accepted events to recordings")
	rootCmd.PersistentFlags().Bool("engine.allow_content", false, "pass raw content attributes through redaction")
}

// engineOptions maps loaded config onto engine options.
func engineOptions() (engine.Options, error) {
	root := cfg.Engine.WorkspaceRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return engine.Options{}, err
		}
		root = wd
	}

	opts := engine.Options{
		WorkspaceRoot:       root,
		DirName:             cfg.Engine.DirName,
		Threshold:           cfg.Engine.Threshold,
		Record:              cfg.Engine.RecordTelemetry,
		Storage:             cfg.Engine.Storage,
		MaxChaptersInMemory: cfg.Engine.MaxChaptersInMemory,
		MaxRecordingBytes:   cfg.Engine.MaxRecordingBytes,
		AllowContent:        cfg.Engine.AllowContent,
		FixedWorkspaceSalt:  cfg.Engine.WorkspaceSalt,
	}
	return opts, nil
}
