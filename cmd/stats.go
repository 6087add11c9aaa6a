package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/analysis"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print ATT&CK catalogue statistics",
	Long: `Compute the per-dimension statistics without writing any layer.

Examples:
  attackmap stats
  attackmap stats --format json
  attackmap stats --latest --format yaml   # last stored run, no download`,
	RunE: runStats,
}

var (
	statsFormat string
	statsLatest bool
)

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsFormat, "format", "table", "output format (table, json, yaml)")
	statsCmd.Flags().BoolVar(&statsLatest, "latest", false, "show the latest stored run instead of analyzing")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if statsLatest {
		cfg.Database.Enabled = true
	}

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	var summary *analysis.Summary
	if statsLatest {
		run, err := rt.store.LatestRun(ctx)
		if err != nil {
			return err
		}
		summary = run.Summary
	} else {
		p, err := rt.Pipeline(ctx, false)
		if err != nil {
			return err
		}
		res, err := p.Run(ctx)
		if err != nil {
			return err
		}
		summary = res.Summary
	}

	return printSummary(cmd.OutOrStdout(), summary, statsFormat)
}

func printSummary(w io.Writer, summary *analysis.Summary, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "yaml":
		// round trip through JSON so yaml sees the same keys
		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		var generic map[string]interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err

	case "table", "":
		printSummaryTable(w, summary)
		return nil

	default:
		return fmt.Errorf("unknown format %q: must be table, json or yaml", format)
	}
}

func printSummaryTable(w io.Writer, summary *analysis.Summary) {
	header := color.New(color.FgCyan, color.Bold)

	header.Fprintln(w, "Catalogue")
	fmt.Fprintf(w, "  techniques:      %d\n", summary.AllTechniques)
	fmt.Fprintf(w, "  used techniques: %d\n", summary.UsedTechniques)
	fmt.Fprintf(w, "  coverage:        %.2f%%\n\n", summary.CoveragePercent)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DIMENSION\tTOTAL\tAVERAGE\tMOST\tCOUNT")
	for _, dim := range attack.AllDimensions() {
		ds := summary.Dimension(dim)
		most, count := "none", "-"
		if ds.Most != nil {
			most = fmt.Sprintf("%s %s", ds.Most.ID, ds.Most.Name)
			count = fmt.Sprint(ds.Most.Count)
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\t%s\n", dim, ds.Total, ds.Average, most, count)
	}
	tw.Flush()

	for _, dim := range attack.AllDimensions() {
		ds := summary.Dimension(dim)
		if len(ds.Top) == 0 {
			continue
		}
		fmt.Fprintln(w)
		header.Fprintf(w, "Top %d by %s\n", len(ds.Top), dim)
		for i, t := range ds.Top {
			fmt.Fprintf(w, "  %d. %-10s %-50s %d\n", i+1, t.ID, t.Name, t.Count)
		}
	}
}
