// cmd_run.go - Run und Merge Commands
// Hauptfunktionen: RunHandler, MergeHandler
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/pipeline"
)

// RunHandler - Fuehrt die komplette Pipeline aus
func RunHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	o := &pipeline.Orchestrator{
		Config:    cfg,
		Quantizer: newQuantizer(cfg),
		Store:     newHubClient(cmd, cfg),
	}
	return runPipeline(cmd, o)
}

// MergeHandler - Nur Merge und Abgleich, ohne Hub und Quantisierung
func MergeHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg.Download = false
	cfg.Quantize = false
	cfg.Upload = false

	return runPipeline(cmd, &pipeline.Orchestrator{Config: cfg})
}

func runPipeline(cmd *cobra.Command, o *pipeline.Orchestrator) error {
	o.Metrics = metrics.New()
	o.Logger = slog.Default()
	o.Progress = newProgressLine(cmd.ErrOrStderr()).copy

	report, err := o.Run(cmd.Context())
	if report != nil {
		report.Render(cmd.OutOrStdout())
	}
	return err
}
