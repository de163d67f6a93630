package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moodsync/platform/internal/app"
	"github.com/moodsync/platform/internal/mood"
)

func newEmotionsCmd(configure configureFunc) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "emotions",
		Short: "List the canonical emotions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if !remote {
				for _, e := range mood.Canonical() {
					fmt.Fprintln(w, e)
				}
				return nil
			}

			cfg, err := configure(cmd)
			if err != nil {
				return err
			}
			labels, err := app.Client(cfg).Emotions(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range labels {
				fmt.Fprintln(w, mood.FormatLabel(l))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the inference service which labels its model produces")
	return cmd
}
