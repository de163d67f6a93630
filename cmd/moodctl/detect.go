package main

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/moodsync/platform/internal/app"
	"github.com/moodsync/platform/internal/config"
	"github.com/moodsync/platform/internal/mood"
	"github.com/moodsync/platform/internal/pipeline"
)

type configureFunc func(*cobra.Command) (*config.Config, error)

type detectOutput struct {
	mood.Signal
	ID       string   `json:"id,omitempty"`
	Degraded *bool    `json:"degraded,omitempty"`
	Cause    string   `json:"cause,omitempty"`
	Path     []string `json:"path,omitempty"`
	Elapsed  string   `json:"elapsed,omitempty"`
}

func newDetectCmd(configure configureFunc) *cobra.Command {
	var (
		file    string
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Record a voice sample and print the detected mood",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configure(cmd)
			if err != nil {
				return err
			}
			if file != "" {
				cfg.Audio.File = file
			}

			c := app.New(cfg)
			defer c.Manager.Close()
			res := c.Pipeline.Run(cmd.Context())
			return printDetect(cmd, res, asJSON, verbose)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "analyze a WAV file instead of recording")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include degradation details and state path")
	return cmd
}

func printDetect(cmd *cobra.Command, res pipeline.Result, asJSON, verbose bool) error {
	out := detectOutput{Signal: res.Signal}
	if verbose {
		degraded := res.Degraded
		out.ID = res.ID
		out.Degraded = &degraded
		if res.Cause != nil {
			out.Cause = res.Cause.Error()
		}
		for _, s := range res.Path {
			out.Path = append(out.Path, s.String())
		}
		out.Elapsed = res.Elapsed.Round(time.Millisecond).String()
	}

	w := cmd.OutOrStdout()
	if asJSON {
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "%s (%d%%)\n", out.Label, out.ConfidencePercent)
	if verbose {
		fmt.Fprintf(w, "invocation: %s\n", out.ID)
		fmt.Fprintf(w, "degraded:   %v\n", *out.Degraded)
		if out.Cause != "" {
			fmt.Fprintf(w, "cause:      %s\n", out.Cause)
		}
		fmt.Fprintf(w, "path:       %s\n", strings.Join(out.Path, " -> "))
		fmt.Fprintf(w, "elapsed:    %s\n", out.Elapsed)
	}
	return nil
}
