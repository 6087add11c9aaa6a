package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

// STIX object types read from the bundle
const (
	typeAttackPattern  = "attack-pattern"
	typeIntrusionSet   = "intrusion-set"
	typeCourseOfAction = "course-of-action"
	typeRelationship   = "relationship"

	mitreAttackSource = "mitre-attack"
)

type stixBundle struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Objects []json.RawMessage `json:"objects"`
}

// stixHeader carries the fields every object is filtered on
type stixHeader struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Revoked    bool   `json:"revoked"`
	Deprecated bool   `json:"x_mitre_deprecated"`
}

type stixAttackPattern struct {
	ID                 string                     `json:"id"`
	Name               string                     `json:"name"`
	Description        string                     `json:"description"`
	KillChainPhases    []attack.KillChainPhase    `json:"kill_chain_phases"`
	ExternalReferences []attack.ExternalReference `json:"external_references"`
}

type stixIntrusionSet struct {
	ID                 string                     `json:"id"`
	Name               string                     `json:"name"`
	Aliases            []string                   `json:"aliases"`
	Description        string                     `json:"description"`
	ExternalReferences []attack.ExternalReference `json:"external_references"`
	CreatedByRef       string                     `json:"created_by_ref"`
}

type stixCourseOfAction struct {
	ID                 string                     `json:"id"`
	Name               string                     `json:"name"`
	Description        string                     `json:"description"`
	ExternalReferences []attack.ExternalReference `json:"external_references"`
	CreatedByRef       string                     `json:"created_by_ref"`
}

// BundleStats counts what ParseBundle kept and dropped
type BundleStats struct {
	Objects     int
	Skipped     int
	NoAttackID  int
	Unsupported int
}

// ParseBundle decodes a STIX 2 bundle into flat ATT&CK records. Revoked and deprecated
// objects are dropped, as are attack patterns without an ATT&CK identifier.
func ParseBundle(data []byte) (*attack.Dataset, BundleStats, error) {
	var stats BundleStats

	var bundle stixBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, stats, fmt.Errorf("failed to decode bundle: %w", err)
	}
	if bundle.Type != "" && bundle.Type != "bundle" {
		return nil, stats, fmt.Errorf("unexpected document type %q", bundle.Type)
	}

	ds := &attack.Dataset{}
	stats.Objects = len(bundle.Objects)

	for i, raw := range bundle.Objects {
		var hdr stixHeader
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return nil, stats, fmt.Errorf("object %d: %w", i, err)
		}
		if hdr.Revoked || hdr.Deprecated {
			stats.Skipped++
			continue
		}

		switch hdr.Type {
		case typeAttackPattern:
			var ap stixAttackPattern
			if err := json.Unmarshal(raw, &ap); err != nil {
				return nil, stats, fmt.Errorf("attack-pattern %s: %w", hdr.ID, err)
			}
			tech, ok := techniqueFrom(ap)
			if !ok {
				stats.NoAttackID++
				continue
			}
			ds.Techniques = append(ds.Techniques, tech)

		case typeIntrusionSet:
			var is stixIntrusionSet
			if err := json.Unmarshal(raw, &is); err != nil {
				return nil, stats, fmt.Errorf("intrusion-set %s: %w", hdr.ID, err)
			}
			ds.Groups = append(ds.Groups, attack.Group{
				ID:                 is.ID,
				GroupID:            attackID(is.ExternalReferences),
				Name:               is.Name,
				Aliases:            is.Aliases,
				Description:        is.Description,
				ExternalReferences: is.ExternalReferences,
				CreatedByRef:       is.CreatedByRef,
			})

		case typeCourseOfAction:
			var coa stixCourseOfAction
			if err := json.Unmarshal(raw, &coa); err != nil {
				return nil, stats, fmt.Errorf("course-of-action %s: %w", hdr.ID, err)
			}
			ds.Mitigations = append(ds.Mitigations, attack.Mitigation{
				ID:           coa.ID,
				MitigationID: attackID(coa.ExternalReferences),
				Name:         coa.Name,
				Description:  coa.Description,
				CreatedByRef: coa.CreatedByRef,
			})

		case typeRelationship:
			var rel attack.Relationship
			if err := json.Unmarshal(raw, &rel); err != nil {
				return nil, stats, fmt.Errorf("relationship %s: %w", hdr.ID, err)
			}
			ds.Relationships = append(ds.Relationships, rel)

		default:
			stats.Unsupported++
		}
	}

	return ds, stats, nil
}

func techniqueFrom(ap stixAttackPattern) (attack.Technique, bool) {
	id := attackID(ap.ExternalReferences)
	if id == "" {
		return attack.Technique{}, false
	}

	refs := ap.ExternalReferences
	if refs == nil {
		refs = []attack.ExternalReference{}
	}

	return attack.Technique{
		ID:                   ap.ID,
		TechniqueID:          id,
		ParentID:             parentID(id),
		Name:                 ap.Name,
		Description:          ap.Description,
		KillChainPhases:      ap.KillChainPhases,
		ExternalReferences:   refs,
		Groups:               []attack.GroupRef{},
		Mitigations:          []attack.MitigationRef{},
		RelatedRelationships: []attack.Relationship{},
	}, true
}

// attackID returns the external id of the first mitre-attack reference
func attackID(refs []attack.ExternalReference) string {
	for _, ref := range refs {
		if ref.SourceName == mitreAttackSource {
			return ref.ExternalID
		}
	}
	return ""
}

// parentID returns "T1055" for "T1055.011" and "" for top-level techniques
func parentID(id string) string {
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return ""
}
