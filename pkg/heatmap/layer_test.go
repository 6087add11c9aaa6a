package heatmap

import (
	"encoding/json"
	"testing"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func twoTechniques() []attack.Technique {
	return []attack.Technique{
		{
			TechniqueID: "T1001",
			Name:        "Data Obfuscation",
			Groups:      []attack.GroupRef{{ID: "intrusion-set--1"}, {ID: "intrusion-set--2"}},
			Stats:       attack.Stats{attack.StatGroups: 2, attack.StatMitigations: 0},
		},
		{
			TechniqueID: "T1002",
			Name:        "Data Compressed",
			Mitigations: []attack.MitigationRef{{SourceRef: "course-of-action--1"}},
			Stats:       attack.Stats{attack.StatGroups: 0, attack.StatMitigations: 1},
		},
	}
}

func observedBuilder() (*Builder, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewBuilder(logger.NewFromZap(zap.New(core))), logs
}

func TestBuildHidesUncovered(t *testing.T) {
	b, _ := observedBuilder()

	layer := b.Build(twoTechniques(), attack.DimensionGroups.LayerName(), attack.DimensionGroups, true)
	require.Len(t, layer.Techniques, 2)

	t1001, ok := layer.Entry("T1001")
	require.True(t, ok)
	assert.True(t, t1001.Enabled)
	assert.Equal(t, "2 groups", t1001.Comment)
	assert.True(t, t1001.ShowSubtechniques)

	t1002, ok := layer.Entry("T1002")
	require.True(t, ok)
	assert.False(t, t1002.Enabled)
	assert.Equal(t, "0 groups", t1002.Comment)
	assert.Equal(t, "#ffffff", t1002.Color)
}

func TestBuildShowsUncoveredWhenAllowed(t *testing.T) {
	b, _ := observedBuilder()

	layer := b.Build(twoTechniques(), "Groups", attack.DimensionGroups, false)
	for _, e := range layer.Techniques {
		assert.True(t, e.Enabled, e.TechniqueID)
	}
}

func TestBuildColorsFollowScheme(t *testing.T) {
	b, _ := observedBuilder()
	techniques := twoTechniques()

	scheme := b.Scheme(techniques, attack.DimensionGroups)
	layer := b.Build(techniques, "Groups", attack.DimensionGroups, true)

	assert.Equal(t, scheme.Colors(), layer.Gradient.Colors)
	assert.Equal(t, scheme.Legend(), layer.LegendItems)
	for _, e := range layer.Techniques {
		var count int
		for _, tech := range techniques {
			if tech.TechniqueID == e.TechniqueID {
				count = tech.Stats.For(attack.DimensionGroups)
			}
		}
		assert.Equal(t, scheme.ColorFor(count), e.Color, e.TechniqueID)
	}
}

func TestBuildSkipsTechniquesWithoutID(t *testing.T) {
	b, logs := observedBuilder()

	techniques := append(twoTechniques(), attack.Technique{
		ID:    "attack-pattern--orphan",
		Name:  "Orphan",
		Stats: attack.Stats{attack.StatGroups: 40},
	})

	layer := b.Build(techniques, "Groups", attack.DimensionGroups, true)
	require.Len(t, layer.Techniques, 2)
	_, ok := layer.Entry("")
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("Skipping technique without identifier").Len())

	// the orphan's count still shapes the thresholds
	values := b.Scheme(techniques, attack.DimensionGroups).Values()
	assert.Equal(t, 40, values[len(values)-1])
}

func TestBuildMetadata(t *testing.T) {
	b, _ := observedBuilder()

	layer := b.Build(twoTechniques(), "Mitigations Heat Map", attack.DimensionMitigations, true)

	assert.Equal(t, "Mitigations Heat Map", layer.Name)
	assert.Equal(t, "Enterprise techniques heat map showing mitigations count", layer.Description)
	assert.Equal(t, Domain, layer.Domain)
	assert.Equal(t, Versions{Attack: "16", Navigator: "5.0.0", Layer: "4.5"}, layer.Versions)
	assert.Equal(t, 0, layer.Gradient.MinValue)
	assert.Equal(t, 1, layer.Gradient.MaxValue)
	assert.True(t, layer.HideDisabled)
	assert.Equal(t, Layout{Layout: "flat", ShowName: true, ShowID: false, ExpandedSubtechniques: true}, layer.Layout)
}

func TestLayerJSONShape(t *testing.T) {
	b, _ := observedBuilder()
	layer := b.Build(twoTechniques(), "Groups Heat Map", attack.DimensionGroups, true)

	data, err := json.Marshal(layer)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))

	for _, key := range []string{
		"description", "name", "domain", "versions", "gradient", "legendItems", "techniques",
		"showTacticRowBackground", "tacticRowBackground", "selectTechniquesAcrossTactics",
		"selectSubtechniquesWithParent", "selectVisibleTechniques", "layout", "hideDisabled",
	} {
		assert.Contains(t, doc, key)
	}
	assert.Equal(t, "#dddddd", doc["tacticRowBackground"])
	assert.Equal(t, false, doc["selectVisibleTechniques"])

	entries := doc["techniques"].([]interface{})
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "T1001", first["techniqueID"])
	assert.Equal(t, true, first["showSubtechniques"])
}

func TestSchemeFallsBackToDefault(t *testing.T) {
	b, logs := observedBuilder()

	scheme := b.Scheme(twoTechniques(), attack.Dimension("tactics"))
	assert.Equal(t, DefaultScheme(), scheme)
	assert.Equal(t, 1, logs.FilterMessage("Unknown count dimension, using default color scheme").Len())

	single := []attack.Technique{{TechniqueID: "T1003", Stats: attack.Stats{attack.StatGroups: 4}}}
	scheme = b.Scheme(single, attack.DimensionGroups)
	assert.Equal(t, DefaultScheme(), scheme)
	assert.Equal(t, 1, logs.FilterMessage("Could not derive color thresholds, using default color scheme").Len())
}

func TestBuildUsesDefaultSchemeForEmptyDimension(t *testing.T) {
	b, _ := observedBuilder()

	layer := b.Build(twoTechniques(), "References Heat Map", attack.DimensionReferences, true)
	assert.Equal(t, DefaultScheme().Colors(), layer.Gradient.Colors)
	for _, e := range layer.Techniques {
		assert.False(t, e.Enabled)
		assert.Equal(t, "0 references", e.Comment)
	}
}

func TestNewBuilderNilLogger(t *testing.T) {
	b := NewBuilder(nil)
	layer := b.Build(nil, "Empty", attack.DimensionGroups, true)
	assert.Empty(t, layer.Techniques)
	assert.Equal(t, DefaultScheme().Legend(), layer.LegendItems)
}
