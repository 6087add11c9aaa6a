package heatmap

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

// Navigator document constants
const (
	Domain           = "enterprise-attack"
	AttackVersion    = "16"
	NavigatorVersion = "5.0.0"
	LayerVersion     = "4.5"
	TacticRowColor   = "#dddddd"
)

// Layer is an ATT&CK Navigator layer document
type Layer struct {
	Description                   string           `json:"description"`
	Name                          string           `json:"name"`
	Domain                        string           `json:"domain"`
	Versions                      Versions         `json:"versions"`
	Gradient                      LayerGradient    `json:"gradient"`
	LegendItems                   []LegendItem     `json:"legendItems"`
	Techniques                    []TechniqueEntry `json:"techniques"`
	ShowTacticRowBackground       bool             `json:"showTacticRowBackground"`
	TacticRowBackground           string           `json:"tacticRowBackground"`
	SelectTechniquesAcrossTactics bool             `json:"selectTechniquesAcrossTactics"`
	SelectSubtechniquesWithParent bool             `json:"selectSubtechniquesWithParent"`
	SelectVisibleTechniques       bool             `json:"selectVisibleTechniques"`
	Layout                        Layout           `json:"layout"`
	HideDisabled                  bool             `json:"hideDisabled"`
}

type Versions struct {
	Attack    string `json:"attack"`
	Navigator string `json:"navigator"`
	Layer     string `json:"layer"`
}

type LayerGradient struct {
	Colors   []string `json:"colors"`
	MinValue int      `json:"minValue"`
	MaxValue int      `json:"maxValue"`
}

type LegendItem struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// TechniqueEntry is one colored cell of the matrix
type TechniqueEntry struct {
	TechniqueID       string `json:"techniqueID"`
	Color             string `json:"color"`
	Comment           string `json:"comment"`
	ShowSubtechniques bool   `json:"showSubtechniques"`
	Enabled           bool   `json:"enabled"`
}

type Layout struct {
	Layout                string `json:"layout"`
	ShowName              bool   `json:"showName"`
	ShowID                bool   `json:"showID"`
	ExpandedSubtechniques bool   `json:"expandedSubtechniques"`
}

// Entry returns the entry for techniqueID, if present
func (l *Layer) Entry(techniqueID string) (TechniqueEntry, bool) {
	for _, e := range l.Techniques {
		if e.TechniqueID == techniqueID {
			return e, true
		}
	}
	return TechniqueEntry{}, false
}

// Builder turns stats-annotated techniques into Navigator layers
type Builder struct {
	logger *logger.Logger
}

func NewBuilder(log *logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{logger: log.WithComponent("heatmap")}
}

// Scheme computes the color scheme for dim. Unknown dimensions and distributions
// too small for quartiles fall back to the default scheme with a warning.
func (b *Builder) Scheme(techniques []attack.Technique, dim attack.Dimension) ColorScheme {
	if !dim.Valid() {
		b.logger.Warnw("Unknown count dimension, using default color scheme",
			"dimension", dim.String(),
		)
		return DefaultScheme()
	}

	scheme, err := SchemeForCounts(CountsFor(techniques, dim))
	if err != nil {
		b.logger.Warnw("Could not derive color thresholds, using default color scheme",
			"dimension", dim.String(),
			"techniques", len(techniques),
			"error", err,
		)
		return DefaultScheme()
	}
	return scheme
}

// Build produces the heat map layer for dim. Techniques without an identifier are left
// out of the document but still shape the color scheme. With hideUncovered, techniques
// whose count is zero are disabled.
func (b *Builder) Build(techniques []attack.Technique, name string, dim attack.Dimension, hideUncovered bool) *Layer {
	scheme := b.Scheme(techniques, dim)

	layer := &Layer{
		Description: fmt.Sprintf("Enterprise techniques heat map showing %s count", dim),
		Name:        name,
		Domain:      Domain,
		Versions: Versions{
			Attack:    AttackVersion,
			Navigator: NavigatorVersion,
			Layer:     LayerVersion,
		},
		Gradient: LayerGradient{
			Colors:   scheme.Colors(),
			MinValue: 0,
			MaxValue: 1,
		},
		LegendItems:                   scheme.Legend(),
		Techniques:                    make([]TechniqueEntry, 0, len(techniques)),
		ShowTacticRowBackground:       true,
		TacticRowBackground:           TacticRowColor,
		SelectTechniquesAcrossTactics: true,
		SelectSubtechniquesWithParent: true,
		SelectVisibleTechniques:       false,
		Layout: Layout{
			Layout:                "flat",
			ShowName:              true,
			ShowID:                false,
			ExpandedSubtechniques: true,
		},
		HideDisabled: true,
	}

	skipped := 0
	for i := range techniques {
		t := &techniques[i]
		if t.TechniqueID == "" {
			b.logger.Debugw("Skipping technique without identifier",
				"stix_id", t.ID,
				"name", t.Name,
			)
			skipped++
			continue
		}

		count := t.Stats.For(dim)
		layer.Techniques = append(layer.Techniques, TechniqueEntry{
			TechniqueID:       t.TechniqueID,
			Color:             scheme.ColorFor(count),
			Comment:           fmt.Sprintf("%d %s", count, dim),
			ShowSubtechniques: true,
			Enabled:           !(hideUncovered && count == 0),
		})
	}

	b.logger.Debugw("Built heat map layer",
		"dimension", dim.String(),
		"name", name,
		"techniques", len(layer.Techniques),
		"skipped", skipped,
		"thresholds", scheme.Values(),
	)

	return layer
}
