package attack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDimension(t *testing.T) {
	tests := []struct {
		input   string
		want    Dimension
		wantErr bool
	}{
		{input: "groups", want: DimensionGroups},
		{input: "Mitigations", want: DimensionMitigations},
		{input: " relationships ", want: DimensionRelationships},
		{input: "references", want: DimensionReferences},
		{input: "tactics", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDimension(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownDimension)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDimensionStatKey(t *testing.T) {
	assert.Equal(t, "groups_count", DimensionGroups.StatKey())
	assert.Equal(t, "mitigations_count", DimensionMitigations.StatKey())
	assert.Equal(t, "relationships_count", DimensionRelationships.StatKey())
	// references are stored under the "referenced" key
	assert.Equal(t, "referenced_count", DimensionReferences.StatKey())
}

func TestDimensionLayerName(t *testing.T) {
	assert.Equal(t, "Groups Heat Map", DimensionGroups.LayerName())
	assert.Equal(t, "References Heat Map", DimensionReferences.LayerName())
}

func TestStatsCount(t *testing.T) {
	var empty Stats
	assert.Equal(t, 0, empty.Count(StatGroups))

	s := Stats{StatGroups: 3, StatMitigations: -1}
	assert.Equal(t, 3, s.For(DimensionGroups))
	assert.Equal(t, 0, s.For(DimensionMitigations), "negative counts are clamped")
	assert.Equal(t, 0, s.For(DimensionReferences), "missing counts default to zero")
}

func TestExternalReferenceKey(t *testing.T) {
	withURL := ExternalReference{SourceName: "mitre-attack", URL: "https://attack.mitre.org/techniques/T1055"}
	assert.Equal(t, "https://attack.mitre.org/techniques/T1055", withURL.Key())

	noURL := ExternalReference{SourceName: "Vendor", Description: "Report 2020"}
	assert.Equal(t, "Vendor|Report 2020", noURL.Key())
}
