package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/output"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/progress"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/heatmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type staticSource struct {
	ds  *attack.Dataset
	err error
}

func (s staticSource) Load(context.Context) (*attack.Dataset, error) {
	return s.ds, s.err
}

type memoryLayers struct {
	mu     sync.Mutex
	layers map[attack.Dimension]*heatmap.Layer
	err    error
}

func (m *memoryLayers) WriteLayer(_ context.Context, dim attack.Dimension, layer *heatmap.Layer) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.layers == nil {
		m.layers = make(map[attack.Dimension]*heatmap.Layer)
	}
	m.layers[dim] = layer
	return "mem://" + string(dim), nil
}

type memoryStore struct {
	runs []*core.Run
}

func (m *memoryStore) SaveRun(_ context.Context, run *core.Run) error {
	m.runs = append(m.runs, run)
	return nil
}
func (m *memoryStore) GetRun(context.Context, string) (*core.Run, error)  { return nil, nil }
func (m *memoryStore) LatestRun(context.Context) (*core.Run, error)       { return nil, nil }
func (m *memoryStore) ListRuns(context.Context, int) ([]*core.Run, error) { return m.runs, nil }
func (m *memoryStore) Close() error                                       { return nil }

type countingEnricher struct {
	calls int
	err   error
}

func (c *countingEnricher) Enrich(_ context.Context, techniques []attack.Technique) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	for i := range techniques {
		techniques[i].D3FEND = []attack.D3FENDTechnique{{ID: "SystemCallAnalysis"}}
	}
	return nil
}

func testDataset() *attack.Dataset {
	return &attack.Dataset{
		Techniques: []attack.Technique{
			{
				ID:          "attack-pattern--1",
				TechniqueID: "T1055",
				Name:        "Process Injection",
				ExternalReferences: []attack.ExternalReference{
					{SourceName: "mitre-attack", ExternalID: "T1055"},
					{SourceName: "Elastic", URL: "https://example.com/pi"},
				},
			},
			{
				ID:                 "attack-pattern--2",
				TechniqueID:        "T1059",
				Name:               "Command and Scripting Interpreter",
				ExternalReferences: []attack.ExternalReference{{SourceName: "mitre-attack", ExternalID: "T1059"}},
			},
			{
				ID:   "attack-pattern--3",
				Name: "No Identifier",
			},
		},
		Groups: []attack.Group{
			{ID: "intrusion-set--1", GroupID: "G0007", Name: "APT28"},
			{ID: "intrusion-set--2", GroupID: "G0016", Name: "APT29"},
		},
		Mitigations: []attack.Mitigation{
			{ID: "course-of-action--1", MitigationID: "M1040", Name: "Behavior Prevention on Endpoint"},
		},
		Relationships: []attack.Relationship{
			{ID: "r1", RelationshipType: "uses", SourceRef: "intrusion-set--1", TargetRef: "attack-pattern--1"},
			{ID: "r2", RelationshipType: "uses", SourceRef: "intrusion-set--2", TargetRef: "attack-pattern--1"},
			{ID: "r3", RelationshipType: "mitigates", SourceRef: "course-of-action--1", TargetRef: "attack-pattern--1"},
			{ID: "r4", RelationshipType: "uses", SourceRef: "intrusion-set--2", TargetRef: "attack-pattern--2"},
		},
	}
}

func TestRun(t *testing.T) {
	layers := &memoryLayers{}
	store := &memoryStore{}
	enricher := &countingEnricher{}

	p := New(staticSource{ds: testDataset()}, nil,
		WithLayerWriter(layers),
		WithRunStore(store),
		WithEnricher(enricher),
		WithSourceName("test-bundle"),
	)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, enricher.calls)
	require.Len(t, res.Techniques, 3)
	assert.Len(t, res.Techniques[0].D3FEND, 1)

	pi := res.Techniques[0]
	assert.Equal(t, 2, pi.Stats.For(attack.DimensionGroups))
	assert.Equal(t, 1, pi.Stats.For(attack.DimensionMitigations))
	assert.Equal(t, 2, pi.Stats.For(attack.DimensionRelationships))
	assert.Equal(t, 2, pi.Stats.For(attack.DimensionReferences))

	assert.Equal(t, 3, res.Summary.AllTechniques)
	assert.Equal(t, 3, res.Summary.Dimension(attack.DimensionGroups).Total)
	require.NotNil(t, res.Summary.Dimension(attack.DimensionGroups).Most)
	assert.Equal(t, "T1055", res.Summary.Dimension(attack.DimensionGroups).Most.ID)

	for _, dim := range attack.AllDimensions() {
		layer := res.Layer(dim)
		require.NotNil(t, layer, dim)
		assert.Equal(t, dim.LayerName(), layer.Name)
		assert.Len(t, layer.Techniques, 2, "techniques without an identifier are skipped")
		assert.Same(t, layer, layers.layers[dim])
		assert.Equal(t, "mem://"+string(dim), res.Locations[dim])
		assert.NotEmpty(t, res.Schemes[dim].Thresholds)
	}

	require.Len(t, store.runs, 1)
	run := store.runs[0]
	assert.Equal(t, res.Run, run)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "test-bundle", run.Source)
	assert.Equal(t, 3, run.TechniqueCount)
	assert.Len(t, run.TechniqueStats, 2)
	assert.Equal(t, "mem://groups", run.Layers["groups"])
	assert.False(t, run.CompletedAt.Before(run.StartedAt))
}

func TestRunHidesUncovered(t *testing.T) {
	res, err := New(staticSource{ds: testDataset()}, nil).Run(context.Background())
	require.NoError(t, err)

	entry, ok := res.Layer(attack.DimensionMitigations).Entry("T1059")
	require.True(t, ok)
	assert.False(t, entry.Enabled)

	res, err = New(staticSource{ds: testDataset()}, nil, WithHideUncovered(false)).Run(context.Background())
	require.NoError(t, err)
	entry, _ = res.Layer(attack.DimensionMitigations).Entry("T1059")
	assert.True(t, entry.Enabled)
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New(staticSource{err: errors.New("offline")}, nil).Run(ctx)
	assert.ErrorContains(t, err, "offline")

	_, err = New(nil, nil).Run(ctx)
	assert.Error(t, err)

	_, err = New(staticSource{ds: testDataset()}, nil, WithLayerWriter(&memoryLayers{err: errors.New("disk full")})).Run(ctx)
	assert.ErrorContains(t, err, "disk full")

	_, err = New(staticSource{ds: testDataset()}, nil, WithEnricher(&countingEnricher{err: errors.New("d3fend down")})).Run(ctx)
	assert.ErrorContains(t, err, "d3fend down")
}

func TestRunEmptyDataset(t *testing.T) {
	res, err := New(nil, nil).Process(context.Background(), &attack.Dataset{})
	require.NoError(t, err)

	assert.Zero(t, res.Summary.AllTechniques)
	assert.Nil(t, res.Summary.Dimension(attack.DimensionGroups).Most)
	for _, dim := range attack.AllDimensions() {
		assert.Empty(t, res.Layer(dim).Techniques)
		assert.Equal(t, heatmap.DefaultScheme(), res.Schemes[dim])
	}
}

func TestRunWritesFiles(t *testing.T) {
	dir := t.TempDir()
	w := output.NewFileWriter(filepath.Join(dir, "layers"), filepath.Join(dir, "attack_data.json"), nil)

	res, err := New(staticSource{ds: testDataset()}, nil, WithLayerWriter(w), WithDatasetWriter(w)).Run(context.Background())
	require.NoError(t, err)

	for _, dim := range attack.AllDimensions() {
		assert.FileExists(t, filepath.Join(dir, "layers", string(dim)+"_layer.json"))
	}
	assert.Equal(t, filepath.Join(dir, "attack_data.json"), res.Dataset)

	info, err := os.Stat(res.Dataset)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestResultTechnique(t *testing.T) {
	res, err := New(nil, nil).Process(context.Background(), testDataset())
	require.NoError(t, err)

	tech, ok := res.Technique("T1059")
	require.True(t, ok)
	assert.Equal(t, "Command and Scripting Interpreter", tech.Name)

	_, ok = res.Technique("T0000")
	assert.False(t, ok)

	var nilResult *Result
	assert.Nil(t, nilResult.Layer(attack.DimensionGroups))
}

func TestLogSummary(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	res, err := New(nil, nil).Process(context.Background(), testDataset())
	require.NoError(t, err)

	LogSummary(logger.NewFromZap(zap.New(obs)), res.Summary)

	assert.Equal(t, 1, logs.FilterMessage("Statistics for techniques:").Len())
	assert.Equal(t, 1, logs.FilterMessage("  avg_groups_per_technique: 1.00").Len())
	assert.Equal(t, 1, logs.FilterMessage("  all_techniques: 3").Len())
	assert.Equal(t, 1, logs.FilterMessage("  coverage_percent: 100.00").Len())
}

func TestFormatStat(t *testing.T) {
	assert.Equal(t, "0.67", formatStat(2.0/3.0))
	assert.Equal(t, "12", formatStat(12))
	assert.Equal(t, "none", formatStat(nil))
	assert.Equal(t, "1s", formatStat(time.Second))
}

func newTracker() *progress.Tracker {
	tr := progress.New(&bytes.Buffer{}, true)
	for _, ph := range PhaseDescriptions {
		tr.AddPhase(ph.Name, ph.Description)
	}
	return tr
}

func TestRunReportsPhases(t *testing.T) {
	tr := newTracker()
	_, err := New(staticSource{ds: testDataset()}, nil, WithProgress(tr)).Run(context.Background())
	require.NoError(t, err)

	status := map[string]progress.PhaseStatus{}
	for _, ph := range tr.Phases() {
		status[ph.Name] = ph.Status
	}
	assert.Equal(t, progress.StatusCompleted, status[PhaseLoad])
	assert.Equal(t, progress.StatusCompleted, status[PhaseMap])
	assert.Equal(t, progress.StatusPending, status[PhaseEnrich], "no enricher configured")
	assert.Equal(t, progress.StatusCompleted, status[PhaseAnalyze])
	assert.Equal(t, progress.StatusCompleted, status[PhaseLayers])
	assert.Equal(t, progress.StatusCompleted, status[PhasePersist])
}

func TestRunReportsFailedLoad(t *testing.T) {
	tr := newTracker()
	_, err := New(staticSource{err: errors.New("offline")}, nil, WithProgress(tr)).Run(context.Background())
	require.Error(t, err)

	phases := tr.Phases()
	assert.Equal(t, progress.StatusFailed, phases[0].Status)
	assert.EqualError(t, phases[0].Err, "offline")
	assert.Equal(t, progress.StatusPending, phases[1].Status)
}
