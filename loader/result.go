package loader

import (
	"fmt"

	"github.com/bbiangul/agrokg/identity"
	"github.com/bbiangul/agrokg/store"
)

// Counts tallies merge outcomes. Skipped counts writes that were dropped,
// such as an edge to an unknown reference code.
type Counts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

func (c *Counts) add(o store.Outcome) {
	switch o {
	case store.Created:
		c.Created++
	case store.Updated:
		c.Updated++
	default:
		c.Unchanged++
	}
}

func (c *Counts) merge(o Counts) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Skipped += o.Skipped
}

// Warning kinds.
const (
	WarnDuplicate        = "possible_duplicate"
	WarnUnknownReference = "unknown_reference"
	WarnConflict         = "conflict"
)

// Warning is a non-fatal finding reported for manual review.
type Warning struct {
	Kind      string                    `json:"kind"`
	Message   string                    `json:"message"`
	Duplicate *identity.DuplicateReport `json:"duplicate,omitempty"`
	Conflict  *store.Conflict           `json:"conflict,omitempty"`
}

func duplicateWarning(r identity.DuplicateReport) Warning {
	return Warning{
		Kind:      WarnDuplicate,
		Message:   fmt.Sprintf("%s %q looks like existing %q (distance %d)", r.Kind, r.A, r.B, r.Distance),
		Duplicate: &r,
	}
}

func conflictWarning(c store.Conflict) Warning {
	return Warning{
		Kind:     WarnConflict,
		Message:  fmt.Sprintf("%s %s: %s kept %q over %q", c.Label, c.Key, c.Field, c.Kept, c.Discarded),
		Conflict: &c,
	}
}

// LoadResult reports what one record did to the graph.
type LoadResult struct {
	SourceDocumentID   string            `json:"source_document_id"`
	RegistrationNumber string           `json:"registration_number"`
	RunID              string            `json:"run_id"`
	Nodes              map[string]Counts `json:"nodes"`
	Relationships      map[string]Counts `json:"relationships"`
	Warnings           []Warning         `json:"warnings,omitempty"`
	Attempts           int               `json:"attempts"`
	Snapshot           *Snapshot         `json:"-"`
}

func newLoadResult(sourceID, regNo, runID string) *LoadResult {
	return &LoadResult{
		SourceDocumentID:   sourceID,
		RegistrationNumber: regNo,
		RunID:              runID,
		Nodes:              make(map[string]Counts),
		Relationships:      make(map[string]Counts),
	}
}

func (r *LoadResult) node(label string, o store.Outcome) {
	c := r.Nodes[label]
	c.add(o)
	r.Nodes[label] = c
}

func (r *LoadResult) edge(rel string, o store.Outcome) {
	c := r.Relationships[rel]
	c.add(o)
	r.Relationships[rel] = c
}

func (r *LoadResult) skipEdge(rel string) {
	c := r.Relationships[rel]
	c.Skipped++
	r.Relationships[rel] = c
}

// NodeTotals sums node outcomes over all labels.
func (r *LoadResult) NodeTotals() Counts {
	var c Counts
	for _, n := range r.Nodes {
		c.merge(n)
	}
	return c
}

// RelationshipTotals sums relationship outcomes over all types.
func (r *LoadResult) RelationshipTotals() Counts {
	var c Counts
	for _, n := range r.Relationships {
		c.merge(n)
	}
	return c
}

// Snapshot is the canonical form of a loaded record: every natural key as
// written to the store. It feeds the optional graph mirror.
type Snapshot struct {
	Document           string        `json:"document"`
	EffectiveDate      string        `json:"effective_date,omitempty"`
	Version            int           `json:"version,omitempty"`
	RegistrationNumber string        `json:"registration_number"`
	Name               string        `json:"name,omitempty"`
	FormulationType    string        `json:"formulation_type,omitempty"`
	Registrant         string        `json:"registrant,omitempty"`
	Constituents       []string      `json:"active_constituents,omitempty"`
	ModesOfAction      []string      `json:"modes_of_action,omitempty"`
	Uses               []UseSnapshot `json:"registered_uses,omitempty"`
}

// UseSnapshot is one registered use in canonical form.
type UseSnapshot struct {
	Crop           string   `json:"crop"`
	Weed           string   `json:"weed"`
	RateDescriptor string   `json:"rate_descriptor"`
	Efficacy       string   `json:"efficacy,omitempty"`
	MaxGrowthStage string   `json:"max_growth_stage,omitempty"`
	Timings        []string `json:"timings,omitempty"`
	Jurisdictions  []string `json:"jurisdictions,omitempty"`
}
