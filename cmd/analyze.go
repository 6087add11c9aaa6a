package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/pipeline"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/progress"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the ATT&CK catalogue and write Navigator layers",
	Long: `Load the enterprise ATT&CK bundle, map groups, mitigations and relationships
onto techniques, compute statistics and write one Navigator layer per dimension.

Examples:
  attackmap analyze
  attackmap analyze --bundle enterprise-attack.json --output-dir layers
  attackmap analyze --d3fend --save-run --db-dsn postgres://...`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().String("bundle", "", "read the STIX bundle from this file instead of downloading")
	analyzeCmd.Flags().Bool("no-cache", false, "always download the bundle")
	analyzeCmd.Flags().String("output-dir", "", "directory for layer files")
	analyzeCmd.Flags().String("dataset", "", "path of the compact technique dataset (empty string disables it)")
	analyzeCmd.Flags().Bool("show-uncovered", false, "include techniques with a zero count in layers")
	analyzeCmd.Flags().Bool("d3fend", false, "enrich techniques with D3FEND countermeasures")
	analyzeCmd.Flags().Bool("save-run", false, "store the run in the database")
	analyzeCmd.Flags().Bool("progress", false, "show a phase progress bar on stderr")
}

// applyAnalyzeFlags overrides configuration with explicitly set flags
func applyAnalyzeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("bundle") {
		cfg.Source.BundlePath, _ = flags.GetString("bundle")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.Source.UseCache = false
	}
	if flags.Changed("output-dir") {
		cfg.Output.LayerDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("dataset") {
		cfg.Output.DatasetPath, _ = flags.GetString("dataset")
	}
	if show, _ := flags.GetBool("show-uncovered"); show {
		cfg.Output.HideUncovered = false
	}
	if d3fend, _ := flags.GetBool("d3fend"); d3fend {
		cfg.D3FEND.Enabled = true
	}
	if save, _ := flags.GetBool("save-run"); save {
		cfg.Database.Enabled = true
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	applyAnalyzeFlags(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	showProgress, _ := cmd.Flags().GetBool("progress")
	tracker := progress.New(cmd.ErrOrStderr(), showProgress)
	for _, ph := range pipeline.PhaseDescriptions {
		tracker.AddPhase(ph.Name, ph.Description)
	}

	p, err := rt.Pipeline(ctx, true, pipeline.WithProgress(tracker))
	if err != nil {
		return err
	}

	res, err := p.Run(ctx)
	tracker.Complete()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgCyan, color.Bold).Fprintf(out, "\nAnalyzed %d techniques (run %s)\n", len(res.Techniques), res.Run.ID)
	for _, dim := range attack.AllDimensions() {
		layer := res.Layer(dim)
		if layer == nil {
			continue
		}
		loc := res.Locations[dim]
		if loc == "" {
			loc = "(not written)"
		}
		fmt.Fprintf(out, "  %s %-14s %4d techniques  %s\n",
			color.GreenString("✓"), dim, len(layer.Techniques), loc)
	}
	if res.Dataset != "" {
		fmt.Fprintf(out, "  %s %-14s %s\n", color.GreenString("✓"), "dataset", res.Dataset)
	}
	return nil
}
