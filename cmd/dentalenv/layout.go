package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/experience"
)

func newLayoutCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the configured grid, reward table and limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLayout(out, config.Get())
		},
	}
}

func printLayout(out io.Writer, cfg *config.Config) error {
	settings, err := env.SettingsFromConfig(cfg.Env)
	if err != nil {
		return fmt.Errorf("environment settings: %w", err)
	}
	for _, row := range settings.Layout.Strings() {
		fmt.Fprintln(out, row)
	}
	fmt.Fprintln(out, env.Legend())
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "cell\tsymbol\tcode\treward")
	for _, label := range core.AllLabels() {
		fmt.Fprintf(w, "%s\t%c\t%d\t%+.1f\n", label, label.Symbol(), label.Code(), settings.Rewards.For(label))
	}
	fmt.Fprintf(w, "invalid move\t\t\t%+.1f\n", settings.Rewards.InvalidMove)
	fmt.Fprintf(w, "retry limit (%s)\t\t\t%+.1f\n", settings.RetryLimitPolicy, settings.Rewards.RetryLimit)
	if err := w.Flush(); err != nil {
		return err
	}

	low, high := settings.Rewards.Range()
	lim := settings.Limits
	s := experience.NewSerializer(settings.Layout.Rows(), settings.Layout.Cols())
	fmt.Fprintf(out, "\nreward range [%+.1f, %+.1f]\n", low, high)
	fmt.Fprintf(out, "limits: max_retries=%d max_invalid_actions=%d max_steps=%d\n",
		lim.MaxRetries, lim.MaxInvalidActions, lim.MaxSteps)
	fmt.Fprintf(out, "observation %dx%d in [%d, %d], one-hot tensor shape %v\n",
		settings.Layout.Rows(), settings.Layout.Cols(), core.AgentMarker, core.MaxCellCode, s.TensorShape())
	return nil
}
