package core

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/analysis"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/heatmap"
)

// DatasetSource loads the normalized ATT&CK collections
type DatasetSource interface {
	Load(ctx context.Context) (*attack.Dataset, error)
}

// Enricher attaches optional data to mapped techniques (D3FEND countermeasures)
type Enricher interface {
	Enrich(ctx context.Context, techniques []attack.Technique) error
}

// LayerWriter persists one heat map document per dimension
type LayerWriter interface {
	WriteLayer(ctx context.Context, dim attack.Dimension, layer *heatmap.Layer) (string, error)
}

// DatasetWriter persists the compact technique dataset
type DatasetWriter interface {
	WriteDataset(ctx context.Context, techniques []attack.Technique) (string, error)
}

// Cache stores downloaded documents
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// RunStore keeps a history of analysis runs
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}

// Telemetry records run level metrics
type Telemetry interface {
	RecordRun(ctx context.Context, duration time.Duration, techniques int, err error)
	RecordLayer(ctx context.Context, dim attack.Dimension, techniques int)
	Shutdown(ctx context.Context) error
}

// Run is one completed analysis pass
type Run struct {
	ID             string            `json:"id" db:"id"`
	StartedAt      time.Time         `json:"started_at" db:"started_at"`
	CompletedAt    time.Time         `json:"completed_at" db:"completed_at"`
	Source         string            `json:"source" db:"source"`
	TechniqueCount int               `json:"technique_count" db:"technique_count"`
	Summary        *analysis.Summary `json:"summary" db:"-"`
	Layers         map[string]string `json:"layers,omitempty" db:"-"`
	TechniqueStats []TechniqueStat   `json:"technique_stats,omitempty" db:"-"`
}

// Duration is how long the run took
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// TechniqueStat is the stats snapshot of one technique in a run
type TechniqueStat struct {
	RunID         string `json:"run_id" db:"run_id"`
	TechniqueID   string `json:"technique_id" db:"technique_id"`
	Name          string `json:"name" db:"name"`
	Groups        int    `json:"groups_count" db:"groups_count"`
	Mitigations   int    `json:"mitigations_count" db:"mitigations_count"`
	Relationships int    `json:"relationships_count" db:"relationships_count"`
	References    int    `json:"referenced_count" db:"referenced_count"`
}

// StatsFromTechniques snapshots the stats of every technique that has an identifier
func StatsFromTechniques(runID string, techniques []attack.Technique) []TechniqueStat {
	out := make([]TechniqueStat, 0, len(techniques))
	for i := range techniques {
		t := &techniques[i]
		if t.TechniqueID == "" {
			continue
		}
		out = append(out, TechniqueStat{
			RunID:         runID,
			TechniqueID:   t.TechniqueID,
			Name:          t.Name,
			Groups:        t.Stats.For(attack.DimensionGroups),
			Mitigations:   t.Stats.For(attack.DimensionMitigations),
			Relationships: t.Stats.For(attack.DimensionRelationships),
			References:    t.Stats.For(attack.DimensionReferences),
		})
	}
	return out
}
