package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moodsync/platform/internal/app"
	"github.com/moodsync/platform/internal/inference"
	"github.com/moodsync/platform/internal/resilience"
)

func newHealthCmd(configure configureFunc) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the inference service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configure(cmd)
			if err != nil {
				return err
			}
			client := app.Client(cfg)

			ctx := cmd.Context()
			var h inference.Health
			probe := func() error {
				var err error
				h, err = client.Health(ctx)
				return err
			}
			if wait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
				err = resilience.Retry(ctx, resilience.ProbeRetryConfig(), probe)
			} else {
				err = probe()
			}
			if err != nil {
				return fmt.Errorf("inference service at %s: %w", client.BaseURL(), err)
			}

			loaded := "model not loaded"
			if h.ModelLoaded {
				loaded = "model loaded"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", h.Status, loaded)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "keep retrying until the service answers or this long has passed")
	return cmd
}
