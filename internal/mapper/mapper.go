// Package mapper cross-links ATT&CK techniques with the relationships, groups and
// mitigations that target them.
package mapper

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

const (
	relMitigates    = "mitigates"
	relUses         = "uses"
	intrusionPrefix = "intrusion-set"

	progressEvery = 50
)

// Result counts the links a mapping pass created
type Result struct {
	Techniques         int
	Mitigations        int
	Related            int
	Groups             int
	UnknownMitigations int
	UnknownGroups      int
}

type Mapper struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *Mapper {
	if log == nil {
		log = logger.NewNop()
	}
	return &Mapper{logger: log.WithComponent("mapper")}
}

// Map attaches relationships, groups and mitigations to copies of the dataset's techniques.
// The dataset itself is left untouched and technique order is preserved.
func (m *Mapper) Map(ds *attack.Dataset) ([]attack.Technique, Result) {
	var res Result
	if ds == nil {
		return []attack.Technique{}, res
	}

	byTarget := indexByTarget(ds.Relationships)
	groups := make(map[string]attack.Group, len(ds.Groups))
	for _, g := range ds.Groups {
		groups[g.ID] = g
	}
	mitigations := make(map[string]attack.Mitigation, len(ds.Mitigations))
	for _, mit := range ds.Mitigations {
		mitigations[mit.ID] = mit
	}

	m.logger.Infow("Mapping relationships to ATT&CK techniques",
		"techniques", len(ds.Techniques),
		"relationships", len(ds.Relationships),
	)

	out := make([]attack.Technique, len(ds.Techniques))
	for i, t := range ds.Techniques {
		if (i+1)%progressEvery == 0 {
			m.logger.Debugw("Mapping progress", "processed", i+1, "total", len(ds.Techniques))
		}

		t.Mitigations = append([]attack.MitigationRef{}, t.Mitigations...)
		t.RelatedRelationships = append([]attack.Relationship{}, t.RelatedRelationships...)

		for _, rel := range byTarget[t.ID] {
			if rel.RelationshipType == relMitigates {
				ref, ok := resolveMitigation(rel, mitigations)
				if !ok {
					res.UnknownMitigations++
					m.logger.Warnw("Mitigation not found for relationship",
						"source_ref", rel.SourceRef,
						"technique_id", t.TechniqueID,
					)
				}
				t.Mitigations = append(t.Mitigations, ref)
				res.Mitigations++
				continue
			}
			t.RelatedRelationships = append(t.RelatedRelationships, rel)
			res.Related++
		}

		t.Groups = groupsFor(t.RelatedRelationships, groups, &res)
		res.Groups += len(t.Groups)
		out[i] = t
	}
	res.Techniques = len(out)

	m.logger.Infow("Finished mapping techniques",
		"techniques", res.Techniques,
		"mitigations", res.Mitigations,
		"related_relationships", res.Related,
		"groups", res.Groups,
		"unknown_mitigations", res.UnknownMitigations,
	)
	return out, res
}

// indexByTarget groups relationships by the object they point at, keeping bundle order
func indexByTarget(rels []attack.Relationship) map[string][]attack.Relationship {
	idx := make(map[string][]attack.Relationship)
	for _, rel := range rels {
		idx[rel.TargetRef] = append(idx[rel.TargetRef], rel)
	}
	return idx
}

func resolveMitigation(rel attack.Relationship, mitigations map[string]attack.Mitigation) (attack.MitigationRef, bool) {
	ref := attack.MitigationRef{
		RelationshipID: rel.ID,
		SourceRef:      rel.SourceRef,
		TargetRef:      rel.TargetRef,
		Description:    rel.Description,
	}
	mit, ok := mitigations[rel.SourceRef]
	if !ok {
		return ref, false
	}
	ref.MitigationID = mit.MitigationID
	ref.Name = mit.Name
	return ref, true
}

// groupsFor resolves the intrusion sets that "use" a technique. Unknown sets are skipped.
func groupsFor(rels []attack.Relationship, groups map[string]attack.Group, res *Result) []attack.GroupRef {
	refs := []attack.GroupRef{}
	for _, rel := range rels {
		if rel.RelationshipType != relUses || !strings.HasPrefix(rel.SourceRef, intrusionPrefix) {
			continue
		}
		g, ok := groups[rel.SourceRef]
		if !ok {
			res.UnknownGroups++
			continue
		}
		aliases := g.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		refs = append(refs, attack.GroupRef{
			ID:          g.ID,
			GroupID:     g.GroupID,
			Name:        g.Name,
			Aliases:     aliases,
			Description: g.Description,
		})
	}
	return refs
}
