package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/api"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve heat map layers over HTTP",
	Long: `Run the analysis and serve the layers, statistics and run history over HTTP.
ATT&CK Navigator can open a layer directly by URL:

  https://mitre-attack.github.io/attack-navigator/#layerURL=http://localhost:8080/api/v1/layers/groups

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/v1/layers
  GET  /api/v1/layers/:dimension[?download=1]
  GET  /api/v1/layers/:dimension/thresholds
  GET  /api/v1/stats
  GET  /api/v1/techniques/:id
  GET  /api/v1/runs, /api/v1/runs/:id   (with --save-run)
  POST /api/v1/reload

Examples:
  attackmap serve --port 8080
  attackmap serve --bundle enterprise-attack.json --watch`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().Bool("watch", false, "re-run the analysis when the --bundle file changes")
	serveCmd.Flags().Bool("no-cors", false, "disable CORS for ATT&CK Navigator")
	serveCmd.Flags().String("bundle", "", "read the STIX bundle from this file instead of downloading")
	serveCmd.Flags().Bool("save-run", false, "store every analysis in the database")
	serveCmd.Flags().Bool("d3fend", false, "enrich techniques with D3FEND countermeasures")
}

func applyServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if watch, _ := flags.GetBool("watch"); watch {
		cfg.Server.Watch = true
	}
	if noCORS, _ := flags.GetBool("no-cors"); noCORS {
		cfg.Server.EnableCORS = false
	}
	if flags.Changed("bundle") {
		cfg.Source.BundlePath, _ = flags.GetString("bundle")
	}
	if save, _ := flags.GetBool("save-run"); save {
		cfg.Database.Enabled = true
	}
	if d3fend, _ := flags.GetBool("d3fend"); d3fend {
		cfg.D3FEND.Enabled = true
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd)
	if cfg.Server.Watch && cfg.Source.BundlePath == "" {
		return fmt.Errorf("--watch requires a local bundle (--bundle or source.bundle_path)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Layers are served from memory; only run history is persisted
	p, err := rt.Pipeline(ctx, false)
	if err != nil {
		return err
	}

	opts := []api.ServerOption{
		api.WithReload(func(ctx context.Context) (*pipeline.Result, error) {
			return p.Run(ctx)
		}),
		api.WithRateLimit(cfg.RateLimit),
	}
	if rt.store != nil {
		opts = append(opts, api.WithRunStore(rt.store))
	}
	srv := api.NewServer(cfg.Server, log, opts...)

	if err := srv.Reload(ctx); err != nil {
		log.Warnw("Initial analysis failed, serving without data until reload", "error", err)
	}

	color.Cyan("ATT&CK layers available at http://%s/api/v1/layers\n", cfg.Server.Address())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Server.Watch {
		w := api.NewWatcher(cfg.Source.BundlePath, srv.Reload, log)
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}
