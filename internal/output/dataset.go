package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/normalize"
)

// DatasetVersion is the schema version stamped into the dataset metadata
const DatasetVersion = "1.0"

// citations assigns short ids to external references shared between techniques
type citations struct {
	ids    map[string]string
	lookup map[string]any
}

func newCitations() *citations {
	return &citations{
		ids:    make(map[string]string),
		lookup: make(map[string]any),
	}
}

func (c *citations) id(ref attack.ExternalReference) string {
	key := ref.Key()
	if id, ok := c.ids[key]; ok {
		return id
	}
	id := strconv.Itoa(len(c.ids) + 1)
	c.ids[key] = id
	c.lookup[id] = map[string]any{
		"source_name": ref.SourceName,
		"external_id": ref.ExternalID,
		"url":         ref.URL,
		"description": ref.Description,
	}
	return id
}

type compactGroup attack.GroupRef

func (g compactGroup) Serialize() (any, error) {
	aliases := make([]any, len(g.Aliases))
	for i, a := range g.Aliases {
		aliases[i] = a
	}
	return map[string]any{
		"id":          g.ID,
		"group_id":    g.GroupID,
		"name":        g.Name,
		"aliases":     aliases,
		"description": g.Description,
	}, nil
}

type compactMitigation attack.MitigationRef

func (m compactMitigation) Serialize() (any, error) {
	return map[string]any{
		"id":            m.RelationshipID,
		"source_ref":    m.SourceRef,
		"mitigation_id": m.MitigationID,
		"name":          m.Name,
		"description":   m.Description,
	}, nil
}

type compactD3FEND attack.D3FENDTechnique

func (d compactD3FEND) Serialize() (any, error) {
	return map[string]any{
		"id":     d.ID,
		"label":  d.Label,
		"tactic": d.Tactic,
		"uri":    d.URI,
	}, nil
}

// compactTechnique keeps only what the dataset consumers read
type compactTechnique struct {
	technique *attack.Technique
	refs      []string
}

func (c compactTechnique) Serialize() (any, error) {
	t := c.technique

	groups := make([]any, len(t.Groups))
	for i, g := range t.Groups {
		groups[i] = compactGroup(g)
	}
	mitigations := make([]any, len(t.Mitigations))
	for i, m := range t.Mitigations {
		mitigations[i] = compactMitigation(m)
	}
	d3fend := make([]any, len(t.D3FEND))
	for i, d := range t.D3FEND {
		d3fend[i] = compactD3FEND(d)
	}
	refs := make([]any, len(c.refs))
	for i, r := range c.refs {
		refs[i] = r
	}

	stats := make(map[string]any, len(t.Stats))
	for k, v := range t.Stats {
		stats[k] = v
	}

	return map[string]any{
		"type":           "attack-pattern",
		"id":             t.ID,
		"technique_id":   t.TechniqueID,
		"parent_id":      t.ParentID,
		"name":           t.Name,
		"description":    t.Description,
		"groups":         groups,
		"mitigations":    mitigations,
		"d3fend":         d3fend,
		"all_references": refs,
		"stats":          stats,
	}, nil
}

// OptimizeDataset reduces techniques to compact records, moves shared citations into a
// lookup table and prunes empty values.
func OptimizeDataset(techniques []attack.Technique, generatedAt time.Time) (map[string]any, error) {
	cites := newCitations()

	records := make([]any, len(techniques))
	for i := range techniques {
		t := &techniques[i]
		ids := make([]string, 0, len(t.ExternalReferences))
		for _, ref := range t.ExternalReferences {
			ids = append(ids, cites.id(ref))
		}
		records[i] = compactTechnique{technique: t, refs: ids}
	}

	doc := map[string]any{
		"techniques": records,
		"metadata": map[string]any{
			"reference_lookup": cites.lookup,
			"generated_at":     generatedAt.Format(time.RFC3339),
			"version":          DatasetVersion,
			"technique_count":  len(techniques),
		},
	}

	normalized, err := normalize.Normalize(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize dataset: %w", err)
	}

	pruned, ok := normalize.Prune(normalized).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected dataset shape %T", normalized)
	}
	return pruned, nil
}

// EncodeDataset renders the optimized dataset as compact JSON
func EncodeDataset(techniques []attack.Technique, generatedAt time.Time) ([]byte, error) {
	doc, err := OptimizeDataset(techniques, generatedAt)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode dataset: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
