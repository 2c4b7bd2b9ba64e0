// interviewd runs sequential-question interview sessions over WebSocket.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/interviewd/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "interviewd",
		Short:         "Interview session server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newSweepCmd())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level, _ := cfg.Level()

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
