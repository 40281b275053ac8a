// Package datafile defines the typed shape of a project datafile and decodes
// raw JSON documents into it. Decoding is strict about structure: entity
// records missing required identifiers are rejected here, at load time, so the
// lookup index never has to deal with half-formed entities.
package datafile

import (
	"encoding/json"
	"fmt"
)

// Known datafile schema versions. Version "1" documents predate the layered
// config model and cannot be indexed; anything newer than "2" is parsed
// best-effort under the assumption the schema only grows.
const (
	VersionV1 = "1"
	VersionV2 = "2"
)

// MaxTrafficValue is the upper bound of the traffic-allocation hash space.
// End-of-range values are basis points out of this total.
const MaxTrafficValue = 10000

// Experiment statuses as they appear in the datafile.
const (
	StatusRunning    = "Running"
	StatusPaused     = "Paused"
	StatusNotStarted = "Not started"
	StatusLaunched   = "Launched"
)

// Group policies. Only the random policy affects bucketing.
const PolicyRandom = "random"

// Variable value types.
const (
	VariableBoolean = "boolean"
	VariableInteger = "integer"
	VariableDouble  = "double"
	VariableString  = "string"
)

// TrafficAllocation is one cumulative range entry in an allocation table.
type TrafficAllocation struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange"`
}

// VariableUsage is a per-variation override of a feature variable's value.
// Values are carried as authored; typing happens at lookup time.
type VariableUsage struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Variation is one arm of an experiment.
type Variation struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Variables []VariableUsage `json:"variables,omitempty"`
}

// Experiment is a raw experiment record.
type Experiment struct {
	ID                string              `json:"id"`
	Key               string              `json:"key"`
	Status            string              `json:"status"`
	LayerID           string              `json:"layerId,omitempty"`
	AudienceIDs       []string            `json:"audienceIds"`
	Variations        []Variation         `json:"variations"`
	ForcedVariations  map[string]string   `json:"forcedVariations"`
	TrafficAllocation []TrafficAllocation `json:"trafficAllocation"`
}

// Group is a set of mutually exclusive experiments sharing one allocation
// table; range entity ids refer to experiment ids within the group.
type Group struct {
	ID                string              `json:"id"`
	Policy            string              `json:"policy"`
	Experiments       []Experiment        `json:"experiments"`
	TrafficAllocation []TrafficAllocation `json:"trafficAllocation"`
}

// Audience carries a raw condition expression; parsing into a condition tree
// happens when the lookup index is built.
type Audience struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Conditions string `json:"conditions"`
}

// Event is a trackable conversion event tied to experiments.
type Event struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	ExperimentIDs []string `json:"experimentIds"`
}

// Attribute is a user attribute known to the project.
type Attribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Variable defines a feature variable and its default raw value.
type Variable struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Type         string `json:"type"`
	DefaultValue string `json:"defaultValue"`
}

// Feature is a feature flag record.
type Feature struct {
	ID            string     `json:"id"`
	Key           string     `json:"key"`
	ExperimentIDs []string   `json:"experimentIds"`
	LayerID       string     `json:"layerId,omitempty"`
	Variables     []Variable `json:"variables"`
}

// Layer is an ordered rollout: its experiments are evaluated in declared
// order and the first qualifying one wins.
type Layer struct {
	ID          string       `json:"id"`
	Type        string       `json:"type,omitempty"`
	Experiments []Experiment `json:"experiments"`
}

// Document is a fully decoded datafile.
type Document struct {
	Version     string       `json:"version"`
	AccountID   string       `json:"accountId"`
	ProjectID   string       `json:"projectId"`
	Revision    string       `json:"revision"`
	Groups      []Group      `json:"groups"`
	Experiments []Experiment `json:"experiments"`
	Events      []Event      `json:"events"`
	Attributes  []Attribute  `json:"attributes"`
	Audiences   []Audience   `json:"audiences"`
	Features    []Feature    `json:"features"`
	Layers      []Layer      `json:"layers"`
}

// Unsupported reports whether the document's schema version is known to be
// unusable. Unknown versions are not unsupported: they parse best-effort.
func (d *Document) Unsupported() bool {
	return d.Version == VersionV1
}

// Parse decodes a raw datafile. The document is structurally validated unless
// its version is unsupported, in which case the caller is expected to treat
// the whole document as unparsed anyway.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode datafile: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("datafile has no version")
	}
	if doc.Unsupported() {
		return &doc, nil
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks structural invariants: entities carry their identifiers,
// allocation tables are ascending and bounded, and allocation entries in an
// experiment refer to variations that exist.
func (d *Document) Validate() error {
	for _, exp := range d.allExperiments() {
		if err := validateExperiment(exp); err != nil {
			return err
		}
	}
	for _, g := range d.Groups {
		if g.ID == "" {
			return fmt.Errorf("group without id")
		}
		if err := validateAllocation(g.TrafficAllocation, fmt.Sprintf("group %q", g.ID)); err != nil {
			return err
		}
	}
	for _, a := range d.Audiences {
		if a.ID == "" {
			return fmt.Errorf("audience without id")
		}
	}
	for _, f := range d.Features {
		if f.Key == "" {
			return fmt.Errorf("feature without key")
		}
	}
	return nil
}

// allExperiments yields every experiment record in the document: top-level,
// nested in groups, and nested in layers.
func (d *Document) allExperiments() []Experiment {
	out := make([]Experiment, 0, len(d.Experiments))
	out = append(out, d.Experiments...)
	for _, g := range d.Groups {
		out = append(out, g.Experiments...)
	}
	for _, l := range d.Layers {
		out = append(out, l.Experiments...)
	}
	return out
}

func validateExperiment(exp Experiment) error {
	if exp.ID == "" || exp.Key == "" {
		return fmt.Errorf("experiment without id or key (id=%q key=%q)", exp.ID, exp.Key)
	}
	variations := make(map[string]bool, len(exp.Variations))
	for _, v := range exp.Variations {
		if v.ID == "" || v.Key == "" {
			return fmt.Errorf("experiment %q: variation without id or key", exp.Key)
		}
		variations[v.ID] = true
	}
	if err := validateAllocation(exp.TrafficAllocation, fmt.Sprintf("experiment %q", exp.Key)); err != nil {
		return err
	}
	for _, ta := range exp.TrafficAllocation {
		// An empty entity id is a deliberate gap in the allocation table.
		if ta.EntityID != "" && !variations[ta.EntityID] {
			return fmt.Errorf("experiment %q: traffic allocation refers to unknown variation %q", exp.Key, ta.EntityID)
		}
	}
	return nil
}

func validateAllocation(allocs []TrafficAllocation, owner string) error {
	prev := 0
	for _, ta := range allocs {
		if ta.EndOfRange < 0 || ta.EndOfRange > MaxTrafficValue {
			return fmt.Errorf("%s: end of range %d outside [0, %d]", owner, ta.EndOfRange, MaxTrafficValue)
		}
		if ta.EndOfRange < prev {
			return fmt.Errorf("%s: traffic allocation ranges not ascending at %d", owner, ta.EndOfRange)
		}
		prev = ta.EndOfRange
	}
	return nil
}
