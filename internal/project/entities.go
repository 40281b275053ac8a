package project

import (
	"github.com/variantlabs/decider/internal/audience"
	"github.com/variantlabs/decider/internal/datafile"
)

// Variation is one arm of an experiment.
type Variation struct {
	ID        string
	Key       string
	Variables []datafile.VariableUsage
}

// Experiment is an indexed experiment, enriched with the id and policy of its
// mutex group when it belongs to one. Enrichment happens while the index is
// built; instances are immutable afterwards.
type Experiment struct {
	ID                string
	Key               string
	Status            string
	LayerID           string
	AudienceIDs       []string
	Variations        []Variation
	ForcedVariations  map[string]string
	TrafficAllocation []datafile.TrafficAllocation
	GroupID           string
	GroupPolicy       string
}

// IsRunning reports whether the experiment accepts decisions. Every status
// other than Running short-circuits the decision pipeline.
func (e *Experiment) IsRunning() bool {
	return e.Status == datafile.StatusRunning
}

// Group is a mutex group; its allocation table maps ranges to experiment ids.
type Group struct {
	ID                string
	Policy            string
	ExperimentIDs     []string
	TrafficAllocation []datafile.TrafficAllocation
}

// Audience pairs the raw condition expression with its pre-parsed form.
type Audience struct {
	ID         string
	Name       string
	Conditions string
	Parsed     *audience.Conditions
}

// Feature is an indexed feature flag. GroupID is inherited from the first of
// its experiments found to belong to a mutex group.
type Feature struct {
	ID            string
	Key           string
	ExperimentIDs []string
	LayerID       string
	GroupID       string
	Variables     map[string]datafile.Variable
}

// ExperimentRef is an ordered reference to an experiment within a layer.
type ExperimentRef struct {
	ID  string
	Key string
}

// Layer is a rollout: an ordered cascade of experiments.
type Layer struct {
	ID          string
	Type        string
	Experiments []ExperimentRef
}
