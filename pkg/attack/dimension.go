package attack

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDimension is returned when a count dimension name is not recognized
var ErrUnknownDimension = errors.New("unknown count dimension")

// Dimension names one of the per-technique statistics a heat map can visualize
type Dimension string

const (
	DimensionGroups        Dimension = "groups"
	DimensionMitigations   Dimension = "mitigations"
	DimensionRelationships Dimension = "relationships"
	DimensionReferences    Dimension = "references"
)

// Stat keys written into Technique.Stats
const (
	StatGroups        = "groups_count"
	StatMitigations   = "mitigations_count"
	StatRelationships = "relationships_count"
	StatReferences    = "referenced_count"
)

// AllDimensions lists the recognized dimensions in output order
func AllDimensions() []Dimension {
	return []Dimension{
		DimensionGroups,
		DimensionMitigations,
		DimensionRelationships,
		DimensionReferences,
	}
}

// ParseDimension resolves a dimension name, case-insensitively
func ParseDimension(name string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(name)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDimension, name)
	}
	return d, nil
}

// Valid reports whether d is one of the recognized dimensions
func (d Dimension) Valid() bool {
	switch d {
	case DimensionGroups, DimensionMitigations, DimensionRelationships, DimensionReferences:
		return true
	}
	return false
}

// StatKey returns the Stats key holding the count for d
func (d Dimension) StatKey() string {
	switch d {
	case DimensionGroups:
		return StatGroups
	case DimensionMitigations:
		return StatMitigations
	case DimensionRelationships:
		return StatRelationships
	case DimensionReferences:
		return StatReferences
	}
	return string(d) + "_count"
}

// LayerName is the default human-readable heat map name for d
func (d Dimension) LayerName() string {
	if d == "" {
		return "Heat Map"
	}
	return strings.ToUpper(string(d[:1])) + string(d[1:]) + " Heat Map"
}

func (d Dimension) String() string {
	return string(d)
}

// Stats maps stat keys to non-negative counts
type Stats map[string]int

// Count returns the value for key, defaulting to 0 when absent
func (s Stats) Count(key string) int {
	if s == nil {
		return 0
	}
	v, ok := s[key]
	if !ok || v < 0 {
		return 0
	}
	return v
}

// For returns the count for dimension d
func (s Stats) For(d Dimension) int {
	return s.Count(d.StatKey())
}
