// Package pipeline runs one analysis pass: load, map, enrich, aggregate, build the four
// heat map layers and persist the results.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/mapper"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/analysis"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/heatmap"
)

// Result is everything one pass produced
type Result struct {
	Run        *core.Run
	Summary    *analysis.Summary
	Techniques []attack.Technique
	Layers     map[attack.Dimension]*heatmap.Layer
	Schemes    map[attack.Dimension]heatmap.ColorScheme
	Locations  map[attack.Dimension]string
	Dataset    string
}

// Layer returns the layer built for dim, nil if none
func (r *Result) Layer(dim attack.Dimension) *heatmap.Layer {
	if r == nil {
		return nil
	}
	return r.Layers[dim]
}

// Technique finds a technique by its ATT&CK identifier
func (r *Result) Technique(id string) (*attack.Technique, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Techniques {
		if r.Techniques[i].TechniqueID == id {
			return &r.Techniques[i], true
		}
	}
	return nil, false
}

type Option func(*Pipeline)

// WithEnricher adds an enrichment step between mapping and aggregation
func WithEnricher(e core.Enricher) Option {
	return func(p *Pipeline) { p.enricher = e }
}

func WithLayerWriter(w core.LayerWriter) Option {
	return func(p *Pipeline) { p.layers = w }
}

func WithDatasetWriter(w core.DatasetWriter) Option {
	return func(p *Pipeline) { p.dataset = w }
}

// WithRunStore records every completed pass
func WithRunStore(s core.RunStore) Option {
	return func(p *Pipeline) { p.store = s }
}

func WithTelemetry(t core.Telemetry) Option {
	return func(p *Pipeline) { p.telemetry = t }
}

// WithHideUncovered disables layer entries whose count is zero
func WithHideUncovered(hide bool) Option {
	return func(p *Pipeline) { p.hideUncovered = hide }
}

// WithSourceName labels stored runs
func WithSourceName(name string) Option {
	return func(p *Pipeline) { p.sourceName = name }
}

// WithProgress reports each phase of a pass as it starts and ends
func WithProgress(r PhaseReporter) Option {
	return func(p *Pipeline) { p.progress = r }
}

// PhaseReporter receives phase transitions; progress.Tracker implements it
type PhaseReporter interface {
	StartPhase(name string)
	CompletePhase(name string)
	FailPhase(name string, err error)
}

// Phase names reported during a pass, in order
const (
	PhaseLoad    = "load"
	PhaseMap     = "map"
	PhaseEnrich  = "enrich"
	PhaseAnalyze = "analyze"
	PhaseLayers  = "layers"
	PhasePersist = "persist"
)

// PhaseDescriptions lists every phase with a human-readable label
var PhaseDescriptions = []struct{ Name, Description string }{
	{PhaseLoad, "Loading ATT&CK bundle"},
	{PhaseMap, "Linking groups, mitigations and relationships"},
	{PhaseEnrich, "Looking up D3FEND countermeasures"},
	{PhaseAnalyze, "Computing statistics"},
	{PhaseLayers, "Building heat map layers"},
	{PhasePersist, "Writing results"},
}

type nopReporter struct{}

func (nopReporter) StartPhase(string)       {}
func (nopReporter) CompletePhase(string)    {}
func (nopReporter) FailPhase(string, error) {}

// phase runs fn between start and completion events
func (p *Pipeline) phase(name string, fn func() error) error {
	p.progress.StartPhase(name)
	if err := fn(); err != nil {
		p.progress.FailPhase(name, err)
		return err
	}
	p.progress.CompletePhase(name)
	return nil
}

type Pipeline struct {
	source        core.DatasetSource
	mapper        *mapper.Mapper
	builder       *heatmap.Builder
	enricher      core.Enricher
	layers        core.LayerWriter
	dataset       core.DatasetWriter
	store         core.RunStore
	telemetry     core.Telemetry
	progress      PhaseReporter
	logger        *logger.Logger
	hideUncovered bool
	sourceName    string
}

func New(source core.DatasetSource, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Pipeline{
		source:        source,
		mapper:        mapper.New(log),
		builder:       heatmap.NewBuilder(log),
		telemetry:     telemetry.NewNoop(),
		progress:      nopReporter{},
		logger:        log.WithComponent("pipeline"),
		hideUncovered: true,
		sourceName:    "enterprise-attack",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run loads the dataset from the source and processes it
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.source == nil {
		return nil, fmt.Errorf("no dataset source configured")
	}

	start := time.Now()
	var ds *attack.Dataset
	err := p.phase(PhaseLoad, func() (err error) {
		ds, err = p.source.Load(ctx)
		return err
	})
	if err != nil {
		p.telemetry.RecordRun(ctx, time.Since(start), 0, err)
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	return p.process(ctx, ds, start)
}

// Process runs every step after loading on an already decoded dataset
func (p *Pipeline) Process(ctx context.Context, ds *attack.Dataset) (*Result, error) {
	return p.process(ctx, ds, time.Now())
}

func (p *Pipeline) process(ctx context.Context, ds *attack.Dataset, start time.Time) (res *Result, err error) {
	runID := uuid.New().String()
	log := p.logger.WithRunID(runID)

	ctx, span := log.StartOperation(ctx, "pipeline.process")
	defer func() {
		techniques := 0
		if res != nil {
			techniques = len(res.Techniques)
		}
		p.telemetry.RecordRun(ctx, time.Since(start), techniques, err)
		log.FinishOperation(ctx, span, "pipeline.process", start, err, "techniques", techniques)
	}()

	log.Infow("Loaded ATT&CK collections",
		"techniques", len(ds.Techniques),
		"groups", len(ds.Groups),
		"mitigations", len(ds.Mitigations),
	)

	var techniques []attack.Technique
	_ = p.phase(PhaseMap, func() error {
		techniques, _ = p.mapper.Map(ds)
		return nil
	})

	if p.enricher != nil {
		if err := p.phase(PhaseEnrich, func() error {
			return p.enricher.Enrich(ctx, techniques)
		}); err != nil {
			return nil, fmt.Errorf("enrichment failed: %w", err)
		}
	}

	var summary *analysis.Summary
	_ = p.phase(PhaseAnalyze, func() error {
		summary, techniques = analysis.Analyze(techniques, len(ds.Techniques))
		return nil
	})

	var (
		layers  map[attack.Dimension]*heatmap.Layer
		schemes map[attack.Dimension]heatmap.ColorScheme
	)
	if err := p.phase(PhaseLayers, func() (err error) {
		layers, schemes, err = p.buildLayers(ctx, techniques)
		return err
	}); err != nil {
		return nil, err
	}

	res = &Result{
		Summary:    summary,
		Techniques: techniques,
		Layers:     layers,
		Schemes:    schemes,
		Locations:  make(map[attack.Dimension]string, len(layers)),
	}

	p.progress.StartPhase(PhasePersist)
	if err := p.persist(ctx, res); err != nil {
		p.progress.FailPhase(PhasePersist, err)
		return nil, err
	}

	res.Run = &core.Run{
		ID:             runID,
		StartedAt:      start,
		CompletedAt:    time.Now(),
		Source:         p.sourceName,
		TechniqueCount: len(techniques),
		Summary:        summary,
		Layers:         locationsByName(res.Locations),
		TechniqueStats: core.StatsFromTechniques(runID, techniques),
	}

	if p.store != nil {
		if err := p.store.SaveRun(ctx, res.Run); err != nil {
			p.progress.FailPhase(PhasePersist, err)
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
	}
	p.progress.CompletePhase(PhasePersist)

	LogSummary(log, summary)
	return res, nil
}

// buildLayers runs the four dimension passes concurrently. They only read techniques.
func (p *Pipeline) buildLayers(ctx context.Context, techniques []attack.Technique) (map[attack.Dimension]*heatmap.Layer, map[attack.Dimension]heatmap.ColorScheme, error) {
	dims := attack.AllDimensions()
	layers := make(map[attack.Dimension]*heatmap.Layer, len(dims))
	schemes := make(map[attack.Dimension]heatmap.ColorScheme, len(dims))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, dim := range dims {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scheme := p.builder.Scheme(techniques, dim)
			layer := p.builder.Build(techniques, dim.LayerName(), dim, p.hideUncovered)
			p.telemetry.RecordLayer(gctx, dim, len(layer.Techniques))

			mu.Lock()
			layers[dim] = layer
			schemes[dim] = scheme
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("failed to build layers: %w", err)
	}
	return layers, schemes, nil
}

func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	if p.layers != nil {
		for _, dim := range attack.AllDimensions() {
			loc, err := p.layers.WriteLayer(ctx, dim, res.Layers[dim])
			if err != nil {
				return err
			}
			res.Locations[dim] = loc
		}
	}

	if p.dataset != nil {
		loc, err := p.dataset.WriteDataset(ctx, res.Techniques)
		if err != nil {
			return err
		}
		res.Dataset = loc
	}
	return nil
}

func locationsByName(locs map[attack.Dimension]string) map[string]string {
	if len(locs) == 0 {
		return nil
	}
	out := make(map[string]string, len(locs))
	for dim, loc := range locs {
		out[string(dim)] = loc
	}
	return out
}

// LogSummary writes every flattened summary statistic, floats to two decimals
func LogSummary(log *logger.Logger, summary *analysis.Summary) {
	flat := summary.Flatten()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	log.Info("Statistics for techniques:")
	for _, k := range keys {
		log.Infof("  %s: %s", k, formatStat(flat[k]))
	}
}

func formatStat(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", val)
	case nil:
		return "none"
	default:
		return fmt.Sprintf("%v", val)
	}
}
