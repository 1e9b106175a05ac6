package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/patchlings/patchlings/internal/config"
	"github.com/patchlings/patchlings/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the world state and ingest endpoint over HTTP",
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

		srv := server.New(cfg.Server.Port, eng)
		srv.Start()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownTimeout, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
		if err != nil {
			shutdownTimeout = 0
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("server.port", config.DefaultServerPort, "HTTP listen port")
}
