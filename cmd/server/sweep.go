package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale sessions once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			c, err := openCore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer c.close()

			n, err := newWorker(cfg, c).Sweep(ctx)
			if err != nil {
				return err
			}
			logger.Info("Sweep complete", "expired", n)
			return nil
		},
	}
}
