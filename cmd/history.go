package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored analysis runs",
	Long: `List analysis runs stored with --save-run, newest first.

Examples:
  attackmap history --limit 5
  attackmap history technique T1055`,
	RunE: runHistory,
}

var historyTechniqueCmd = &cobra.Command{
	Use:   "technique <technique-id>",
	Short: "Show how one technique's counts changed across runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runTechniqueHistory,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyTechniqueCmd)
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg.Database.Enabled = true

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	runs, err := rt.store.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No runs stored yet. Use: attackmap analyze --save-run")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCOMPLETED\tDURATION\tTECHNIQUES\tCOVERAGE")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f%%\n",
			run.ID,
			run.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			run.Duration().Round(time.Millisecond),
			run.TechniqueCount,
			run.Summary.CoveragePercent,
		)
	}
	return tw.Flush()
}

func runTechniqueHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg.Database.Enabled = true

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.store.TechniqueHistory(ctx, args[0], historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(stats) == 0 {
		color.New(color.FgYellow).Fprintf(out, "No stored stats for %s\n", args[0])
		return nil
	}

	color.New(color.FgCyan, color.Bold).Fprintf(out, "%s %s\n", stats[0].TechniqueID, stats[0].Name)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tGROUPS\tMITIGATIONS\tRELATIONSHIPS\tREFERENCES")
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", st.RunID, st.Groups, st.Mitigations, st.Relationships, st.References)
	}
	return tw.Flush()
}
