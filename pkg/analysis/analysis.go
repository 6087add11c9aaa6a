// Package analysis attaches per-technique counts and summarizes coverage across the
// groups, mitigations, relationships and references dimensions.
package analysis

import (
	"sort"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

// TopN is the length of each ranking in the summary
const TopN = 5

// RankedTechnique is a technique's position in a per-dimension ranking
type RankedTechnique struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DimensionSummary aggregates one count dimension over the working set
type DimensionSummary struct {
	Total   int               `json:"total"`
	Average float64           `json:"average"`
	Most    *RankedTechnique  `json:"most"`
	Top     []RankedTechnique `json:"top"`
}

// Summary is the result of one analysis pass
type Summary struct {
	AllTechniques   int
	UsedTechniques  int
	CoveragePercent float64
	Dimensions      map[attack.Dimension]DimensionSummary
}

// Dimension returns the summary for d, zero-valued if d was not aggregated
func (s *Summary) Dimension(d attack.Dimension) DimensionSummary {
	if s == nil || s.Dimensions == nil {
		return DimensionSummary{}
	}
	return s.Dimensions[d]
}

// Annotate writes the stats of a single technique from its resolved collections
func Annotate(t *attack.Technique) {
	related := 0
	for _, rel := range t.RelatedRelationships {
		if rel.RelationshipType != "mitigates" {
			related++
		}
	}

	t.Stats = attack.Stats{
		attack.StatGroups:        len(t.Groups),
		attack.StatMitigations:   len(t.Mitigations),
		attack.StatRelationships: related,
		attack.StatReferences:    len(t.ExternalReferences),
	}
}

// Analyze attaches stats to every technique in place and summarizes the working set.
// allTechniques is the size of the full catalogue and only feeds the coverage figure.
// The returned slice is the input slice; order and membership are unchanged.
func Analyze(techniques []attack.Technique, allTechniques int) (*Summary, []attack.Technique) {
	for i := range techniques {
		Annotate(&techniques[i])
	}

	summary := &Summary{
		AllTechniques:  allTechniques,
		UsedTechniques: len(techniques),
		Dimensions:     make(map[attack.Dimension]DimensionSummary, len(attack.AllDimensions())),
	}
	if allTechniques > 0 {
		summary.CoveragePercent = float64(len(techniques)) / float64(allTechniques) * 100
	}

	for _, d := range attack.AllDimensions() {
		summary.Dimensions[d] = summarize(techniques, d)
	}

	return summary, techniques
}

func summarize(techniques []attack.Technique, d attack.Dimension) DimensionSummary {
	var ds DimensionSummary

	for i := range techniques {
		count := techniques[i].Stats.For(d)
		ds.Total += count

		// strict comparison keeps the first technique reaching the maximum
		if ds.Most == nil || count > ds.Most.Count {
			r := rank(&techniques[i], count)
			ds.Most = &r
		}
	}

	if len(techniques) > 0 {
		ds.Average = float64(ds.Total) / float64(len(techniques))
	}

	ds.Top = topN(techniques, d, TopN)
	return ds
}

// topN ranks by count descending; equal counts keep input order
func topN(techniques []attack.Technique, d attack.Dimension, n int) []RankedTechnique {
	ranked := make([]RankedTechnique, len(techniques))
	for i := range techniques {
		ranked[i] = rank(&techniques[i], techniques[i].Stats.For(d))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func rank(t *attack.Technique, count int) RankedTechnique {
	return RankedTechnique{
		ID:    t.TechniqueID,
		Name:  t.Name,
		Count: count,
	}
}
