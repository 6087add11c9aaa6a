package attack

// Technique represents an ATT&CK technique with its resolved associations
type Technique struct {
	ID                   string              `json:"id,omitempty"`
	TechniqueID          string              `json:"technique_id,omitempty"`
	ParentID             string              `json:"parent_id,omitempty"`
	Name                 string              `json:"name"`
	Description          string              `json:"description,omitempty"`
	KillChainPhases      []KillChainPhase    `json:"kill_chain_phases,omitempty"`
	ExternalReferences   []ExternalReference `json:"external_references"`
	Groups               []GroupRef          `json:"groups"`
	Mitigations          []MitigationRef     `json:"mitigations"`
	RelatedRelationships []Relationship      `json:"related_relationships"`
	D3FEND               []D3FENDTechnique   `json:"d3fend,omitempty"`
	Stats                Stats               `json:"stats,omitempty"`
}

// DisplayName returns the technique name, or a placeholder for unnamed records
func (t *Technique) DisplayName() string {
	if t.Name == "" {
		return "Unknown"
	}
	return t.Name
}

// KillChainPhase places a technique under a tactic
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

// ExternalReference represents a citation attached to an ATT&CK object
type ExternalReference struct {
	SourceName  string `json:"source_name"`
	ExternalID  string `json:"external_id,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Key identifies a citation independently of the object it is attached to.
// The URL is preferred; citations without one fall back to source and description.
func (r ExternalReference) Key() string {
	if r.URL != "" {
		return r.URL
	}
	return r.SourceName + "|" + r.Description
}

// Group represents an intrusion set
type Group struct {
	ID                 string              `json:"id"`
	GroupID            string              `json:"group_id,omitempty"`
	Name               string              `json:"name"`
	Aliases            []string            `json:"aliases,omitempty"`
	Description        string              `json:"description,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
	CreatedByRef       string              `json:"created_by_ref,omitempty"`
}

// GroupRef is a group attached to a technique through a "uses" relationship
type GroupRef struct {
	ID          string   `json:"id"`
	GroupID     string   `json:"group_id"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Mitigation represents a course of action
type Mitigation struct {
	ID           string `json:"id"`
	MitigationID string `json:"mitigation_id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	CreatedByRef string `json:"created_by_ref,omitempty"`
}

// MitigationRef is a "mitigates" relationship resolved against its mitigation
type MitigationRef struct {
	RelationshipID string `json:"id"`
	SourceRef      string `json:"source_ref"`
	TargetRef      string `json:"target_ref"`
	MitigationID   string `json:"mitigation_id,omitempty"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
}

// Relationship is a typed edge between two ATT&CK objects
type Relationship struct {
	ID               string `json:"id"`
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
	Description      string `json:"description,omitempty"`
}

// D3FENDTechnique is a defensive technique D3FEND maps to an ATT&CK technique
type D3FENDTechnique struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Tactic string `json:"tactic,omitempty"`
	URI    string `json:"uri,omitempty"`
}

// Dataset is the normalized in-memory collection handed to the mapper
type Dataset struct {
	Techniques    []Technique    `json:"techniques"`
	Groups        []Group        `json:"groups"`
	Mitigations   []Mitigation   `json:"mitigations"`
	Relationships []Relationship `json:"relationships"`
}
