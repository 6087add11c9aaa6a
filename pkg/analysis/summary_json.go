package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

// dimensionKeys are the flattened summary key fragments for each dimension
type dimensionKeys struct {
	total string
	avg   string
	most  string
	top   string
}

var flatKeys = map[attack.Dimension]dimensionKeys{
	attack.DimensionGroups: {
		total: "total_groups",
		avg:   "avg_groups_per_technique",
		most:  "most_targeted_technique",
		top:   "top_5_by_groups",
	},
	attack.DimensionMitigations: {
		total: "total_mitigations",
		avg:   "avg_mitigations_per_technique",
		most:  "most_mitigated_technique",
		top:   "top_5_by_mitigations",
	},
	attack.DimensionRelationships: {
		total: "total_relationships",
		avg:   "avg_relationships_per_technique",
		most:  "most_related_technique",
		top:   "top_5_by_relationships",
	},
	attack.DimensionReferences: {
		total: "total_references",
		avg:   "avg_references_per_technique",
		most:  "most_referenced_technique",
		top:   "top_5_by_references",
	},
}

// MostKey returns the flattened key naming the technique with the highest count for d
func MostKey(d attack.Dimension) string {
	return flatKeys[d].most
}

// Flatten returns the summary as a single-level record keyed the way reports expect:
// all_techniques, total_used_techniques, total_<dim>, avg_<dim>_per_technique,
// most_*_technique and top_5_by_<dim>. The "most" records carry their count under the
// dimension's stat key.
func (s *Summary) Flatten() map[string]interface{} {
	out := map[string]interface{}{
		"all_techniques":        s.AllTechniques,
		"total_used_techniques": s.UsedTechniques,
		"coverage_percent":      s.CoveragePercent,
	}

	for _, d := range attack.AllDimensions() {
		keys := flatKeys[d]
		ds := s.Dimension(d)

		out[keys.total] = ds.Total
		out[keys.avg] = ds.Average

		if ds.Most != nil {
			out[keys.most] = map[string]interface{}{
				"id":        ds.Most.ID,
				"name":      ds.Most.Name,
				d.StatKey(): ds.Most.Count,
			}
		} else {
			out[keys.most] = nil
		}

		top := ds.Top
		if top == nil {
			top = []RankedTechnique{}
		}
		out[keys.top] = top
	}

	return out
}

func (s *Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Flatten())
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode summary: %w", err)
	}

	decode := func(key string, v interface{}) error {
		msg, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(msg, v); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return nil
	}

	*s = Summary{Dimensions: make(map[attack.Dimension]DimensionSummary)}
	if err := decode("all_techniques", &s.AllTechniques); err != nil {
		return err
	}
	if err := decode("total_used_techniques", &s.UsedTechniques); err != nil {
		return err
	}
	if err := decode("coverage_percent", &s.CoveragePercent); err != nil {
		return err
	}

	for _, d := range attack.AllDimensions() {
		keys := flatKeys[d]
		var ds DimensionSummary

		if err := decode(keys.total, &ds.Total); err != nil {
			return err
		}
		if err := decode(keys.avg, &ds.Average); err != nil {
			return err
		}
		if err := decode(keys.top, &ds.Top); err != nil {
			return err
		}

		var most map[string]interface{}
		if err := decode(keys.most, &most); err != nil {
			return err
		}
		if most != nil {
			r := RankedTechnique{}
			r.ID, _ = most["id"].(string)
			r.Name, _ = most["name"].(string)
			if n, ok := most[d.StatKey()].(float64); ok {
				r.Count = int(n)
			}
			ds.Most = &r
		}

		s.Dimensions[d] = ds
	}

	return nil
}
