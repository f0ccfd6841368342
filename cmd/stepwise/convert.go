package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/stepwise/internal/aggregator"
	"github.com/crimson-sun/stepwise/internal/export"
	"github.com/crimson-sun/stepwise/internal/source"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <log.ndjson|->",
		Short: "Convert a captured message log into a workflow",
		Long: `convert replays an NDJSON log of capture messages (one message per
line, as sent by capture contexts) through the aggregator and prints the
resulting workflow. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			formatName, _ := cmd.Flags().GetString("format")
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = cfg.Workflow.Name
			}
			outPath, _ := cmd.Flags().GetString("output")

			fs := afero.NewOsFs()
			src, err := source.Open(fs, args[0])
			if err != nil {
				return err
			}
			msgs, err := src.Stream(cmd.Context())
			if err != nil {
				return err
			}

			agg := aggregator.New(
				aggregator.WithWorkflowName(name),
				aggregator.WithWorkflowVersion(cfg.Workflow.Version),
			)
			agg.SetAccepting(true)
			stats, err := source.Replay(cmd.Context(), msgs, agg)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			wf := agg.Snapshot()
			slog.Info("converted",
				"messages", stats.Messages,
				"events", stats.Events,
				"skipped", stats.Skipped,
				"steps", len(wf.Steps),
			)

			if outPath == "" {
				return export.Encode(cmd.OutOrStdout(), wf, format)
			}
			f, err := fs.Create(outPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", outPath, err)
			}
			if err := export.Encode(f, wf, format); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().String("format", "json", "Output format: json or yaml")
	cmd.Flags().StringP("output", "o", "", "Write the workflow to this file instead of stdout")
	cmd.Flags().String("name", "", "Workflow name (overrides STEPWISE_WORKFLOW_NAME)")
	return cmd
}
