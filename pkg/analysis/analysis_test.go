package analysis

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioTechniques() []attack.Technique {
	return []attack.Technique{
		{
			TechniqueID: "T1001",
			Name:        "Data Obfuscation",
			Groups:      []attack.GroupRef{{ID: "g1"}, {ID: "g2"}},
		},
		{
			TechniqueID: "T1002",
			Name:        "Data Compressed",
			Mitigations: []attack.MitigationRef{{SourceRef: "m1"}},
		},
	}
}

func TestAnalyzeScenario(t *testing.T) {
	summary, techniques := Analyze(scenarioTechniques(), 2)

	assert.Equal(t, 2, summary.AllTechniques)
	assert.Equal(t, 2, summary.UsedTechniques)
	assert.InDelta(t, 100.0, summary.CoveragePercent, 1e-9)

	groups := summary.Dimension(attack.DimensionGroups)
	assert.Equal(t, 2, groups.Total)
	assert.InDelta(t, 1.0, groups.Average, 1e-9)
	require.NotNil(t, groups.Most)
	assert.Equal(t, "T1001", groups.Most.ID)

	mitigations := summary.Dimension(attack.DimensionMitigations)
	assert.Equal(t, 1, mitigations.Total)
	require.NotNil(t, mitigations.Most)
	assert.Equal(t, "T1002", mitigations.Most.ID)

	assert.Equal(t, 2, techniques[0].Stats.Count(attack.StatGroups))
	assert.Equal(t, 0, techniques[0].Stats.Count(attack.StatMitigations))
	assert.Equal(t, 1, techniques[1].Stats.Count(attack.StatMitigations))
}

func TestAnalyzeMutatesInPlace(t *testing.T) {
	input := scenarioTechniques()
	_, out := Analyze(input, 10)

	require.Len(t, out, 2)
	assert.Same(t, &input[0], &out[0])
	assert.Equal(t, "T1001", out[0].TechniqueID)
	assert.Equal(t, "T1002", out[1].TechniqueID)
	assert.NotNil(t, input[1].Stats)
}

func TestAnnotateExcludesMitigatesRelationships(t *testing.T) {
	tech := attack.Technique{
		TechniqueID: "T1055",
		RelatedRelationships: []attack.Relationship{
			{RelationshipType: "uses"},
			{RelationshipType: "mitigates"},
			{RelationshipType: "subtechnique-of"},
			{RelationshipType: "detects"},
			{RelationshipType: "mitigates"},
		},
		ExternalReferences: []attack.ExternalReference{{SourceName: "mitre-attack"}, {SourceName: "blog"}},
	}

	Annotate(&tech)

	assert.Equal(t, 3, tech.Stats.Count(attack.StatRelationships))
	assert.Equal(t, 2, tech.Stats.Count(attack.StatReferences))
	assert.Equal(t, 0, tech.Stats.Count(attack.StatGroups))
}

func TestAnnotateReplacesPreviousStats(t *testing.T) {
	tech := attack.Technique{
		TechniqueID: "T1003",
		Stats:       attack.Stats{attack.StatGroups: 99, "stale": 1},
	}

	Annotate(&tech)
	assert.Equal(t, 0, tech.Stats.Count(attack.StatGroups))
	_, stale := tech.Stats["stale"]
	assert.False(t, stale)
}

func TestAnalyzeEmpty(t *testing.T) {
	summary, techniques := Analyze(nil, 0)

	assert.Empty(t, techniques)
	assert.Equal(t, 0, summary.UsedTechniques)
	assert.Zero(t, summary.CoveragePercent)

	for _, d := range attack.AllDimensions() {
		ds := summary.Dimension(d)
		assert.Zero(t, ds.Total, d.String())
		assert.Zero(t, ds.Average, d.String())
		assert.Nil(t, ds.Most, d.String())
		assert.Empty(t, ds.Top, d.String())
	}
}

func TestMostUsesFirstMaximum(t *testing.T) {
	techniques := []attack.Technique{
		{TechniqueID: "T1", Groups: make([]attack.GroupRef, 1)},
		{TechniqueID: "T2", Groups: make([]attack.GroupRef, 3)},
		{TechniqueID: "T3", Groups: make([]attack.GroupRef, 3)},
		{TechniqueID: "T4", Groups: make([]attack.GroupRef, 2)},
	}

	summary, _ := Analyze(techniques, 4)
	most := summary.Dimension(attack.DimensionGroups).Most
	require.NotNil(t, most)
	assert.Equal(t, "T2", most.ID)
	assert.Equal(t, 3, most.Count)

	// all zero: the first technique wins
	zero := summary.Dimension(attack.DimensionMitigations).Most
	require.NotNil(t, zero)
	assert.Equal(t, "T1", zero.ID)
}

func TestTopFiveStableDescending(t *testing.T) {
	counts := []int{1, 4, 2, 4, 0, 2, 5, 1}
	techniques := make([]attack.Technique, len(counts))
	for i, c := range counts {
		techniques[i] = attack.Technique{
			TechniqueID:        fmt.Sprintf("T%d", i),
			ExternalReferences: make([]attack.ExternalReference, c),
		}
	}

	summary, _ := Analyze(techniques, len(techniques))
	top := summary.Dimension(attack.DimensionReferences).Top

	require.Len(t, top, TopN)
	ids := make([]string, len(top))
	for i, r := range top {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"T6", "T1", "T3", "T2", "T5"}, ids)
	assert.Equal(t, 5, top[0].Count)
}

func TestCoveragePercent(t *testing.T) {
	summary, _ := Analyze(scenarioTechniques(), 8)
	assert.InDelta(t, 25.0, summary.CoveragePercent, 1e-9)
}

func TestSummaryFlattenKeys(t *testing.T) {
	summary, _ := Analyze(scenarioTechniques(), 2)
	flat := summary.Flatten()

	assert.Equal(t, 2, flat["all_techniques"])
	assert.Equal(t, 2, flat["total_used_techniques"])
	assert.Equal(t, 2, flat["total_groups"])
	assert.Equal(t, 1, flat["total_mitigations"])
	assert.Equal(t, 0, flat["total_relationships"])
	assert.Equal(t, 0, flat["total_references"])
	assert.InDelta(t, 0.5, flat["avg_mitigations_per_technique"], 1e-9)

	most := flat["most_targeted_technique"].(map[string]interface{})
	assert.Equal(t, "T1001", most["id"])
	assert.Equal(t, 2, most["groups_count"])

	referenced := flat["most_referenced_technique"].(map[string]interface{})
	assert.Contains(t, referenced, "referenced_count")

	for _, key := range []string{"top_5_by_groups", "top_5_by_mitigations", "top_5_by_relationships", "top_5_by_references"} {
		assert.Contains(t, flat, key)
	}
}

func TestSummaryJSONRoundTrip(t *testing.T) {
	summary, _ := Analyze(scenarioTechniques(), 4)

	data, err := json.Marshal(summary)
	require.NoError(t, err)

	var decoded Summary
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, summary.AllTechniques, decoded.AllTechniques)
	assert.Equal(t, summary.UsedTechniques, decoded.UsedTechniques)
	assert.InDelta(t, summary.CoveragePercent, decoded.CoveragePercent, 1e-9)
	for _, d := range attack.AllDimensions() {
		assert.Equal(t, summary.Dimension(d), decoded.Dimension(d), d.String())
	}
}

func TestSummaryJSONNullMost(t *testing.T) {
	summary, _ := Analyze(nil, 0)

	data, err := json.Marshal(summary)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Nil(t, doc["most_targeted_technique"])
	assert.Equal(t, []interface{}{}, doc["top_5_by_groups"])
}
