package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/moodsync/platform/internal/config"
	"github.com/moodsync/platform/internal/logging"
)

type loader func() (*config.Config, error)

type rootOptions struct {
	inferenceURL string
	logLevel     string
}

func newRootCmd(load loader) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "moodctl",
		Short:         "Detect the speaker's mood from a short voice sample",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.inferenceURL, "inference-url", "", "inference service base URL (overrides INFERENCE_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for stderr output")

	// configure loads config, applies flag overrides and installs a stderr logger.
	configure := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		if opts.inferenceURL != "" {
			cfg.Inference.URL = opts.inferenceURL
		}
		logger, err := logging.New(cmd.ErrOrStderr(), opts.logLevel, cfg.Logging.Format)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(logger)
		return cfg, nil
	}

	cmd.AddCommand(
		newDetectCmd(configure),
		newEmotionsCmd(configure),
		newHealthCmd(configure),
	)
	return cmd
}
