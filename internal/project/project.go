// Package project builds the immutable lookup index over a parsed datafile.
// The index is constructed once per configuration snapshot and is safe for
// unsynchronized concurrent reads afterwards; a refreshed datafile always
// produces a wholly new Config, never an in-place update.
package project

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/variantlabs/decider/internal/audience"
	"github.com/variantlabs/decider/internal/datafile"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/report"
)

// Config is the lookup index the decision engine queries.
type Config struct {
	version   string
	revision  string
	accountID string
	projectID string
	parsed    bool

	logger   logging.Logger
	reporter report.Handler

	groupsByID       map[string]*Group
	experimentsByKey map[string]*Experiment
	experimentsByID  map[string]*Experiment
	eventsByKey      map[string]*datafile.Event
	attributesByKey  map[string]*datafile.Attribute
	audiencesByID    map[string]*Audience
	layersByID       map[string]*Layer
	featuresByKey    map[string]*Feature

	// experiment key -> variation key/id -> variation
	variationsByKey map[string]map[string]*Variation
	variationsByID  map[string]map[string]*Variation
	// variation id -> variable id -> usage; only for variations with overrides
	variableUsages map[string]map[string]datafile.VariableUsage
}

// Load builds the index from a decoded datafile. A document with an
// unsupported version yields a Config whose Parsed method reports false and
// whose lookups all answer "not found" without reporting errors. Any other
// construction failure (such as a malformed audience condition) aborts the
// load: the index is all-or-nothing.
func Load(doc *datafile.Document, logger logging.Logger, reporter report.Handler) (*Config, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if reporter == nil {
		reporter = report.NopHandler{}
	}
	c := &Config{
		version:  doc.Version,
		logger:   logger,
		reporter: reporter,
	}
	if doc.Unsupported() {
		return c, nil
	}
	c.revision = doc.Revision
	c.accountID = doc.AccountID
	c.projectID = doc.ProjectID

	c.groupsByID = make(map[string]*Group, len(doc.Groups))
	for _, g := range doc.Groups {
		group := &Group{
			ID:                g.ID,
			Policy:            g.Policy,
			TrafficAllocation: g.TrafficAllocation,
		}
		for _, exp := range g.Experiments {
			group.ExperimentIDs = append(group.ExperimentIDs, exp.ID)
		}
		c.groupsByID[g.ID] = group
	}

	c.experimentsByKey = make(map[string]*Experiment, len(doc.Experiments))
	for _, raw := range doc.Experiments {
		c.experimentsByKey[raw.Key] = newExperiment(raw, "", "")
	}
	// Rollout experiments live inside layers but are addressed through the
	// same experiment index.
	for _, layer := range doc.Layers {
		for _, raw := range layer.Experiments {
			c.experimentsByKey[raw.Key] = newExperiment(raw, "", "")
		}
	}
	// Group experiments are enriched with their group's id and policy.
	for _, g := range doc.Groups {
		for _, raw := range g.Experiments {
			c.experimentsByKey[raw.Key] = newExperiment(raw, g.ID, g.Policy)
		}
	}

	c.eventsByKey = make(map[string]*datafile.Event, len(doc.Events))
	for i := range doc.Events {
		c.eventsByKey[doc.Events[i].Key] = &doc.Events[i]
	}
	c.attributesByKey = make(map[string]*datafile.Attribute, len(doc.Attributes))
	for i := range doc.Attributes {
		c.attributesByKey[doc.Attributes[i].Key] = &doc.Attributes[i]
	}

	c.audiencesByID = make(map[string]*Audience, len(doc.Audiences))
	for _, raw := range doc.Audiences {
		parsed, err := audience.Parse(raw.Conditions)
		if err != nil {
			return nil, fmt.Errorf("audience %q: %w", raw.ID, err)
		}
		c.audiencesByID[raw.ID] = &Audience{
			ID:         raw.ID,
			Name:       raw.Name,
			Conditions: raw.Conditions,
			Parsed:     parsed,
		}
	}

	c.layersByID = make(map[string]*Layer, len(doc.Layers))
	for _, raw := range doc.Layers {
		layer := &Layer{ID: raw.ID, Type: raw.Type}
		for _, exp := range raw.Experiments {
			layer.Experiments = append(layer.Experiments, ExperimentRef{ID: exp.ID, Key: exp.Key})
		}
		c.layersByID[raw.ID] = layer
	}

	c.experimentsByID = make(map[string]*Experiment, len(c.experimentsByKey))
	c.variationsByKey = make(map[string]map[string]*Variation, len(c.experimentsByKey))
	c.variationsByID = make(map[string]map[string]*Variation, len(c.experimentsByKey))
	c.variableUsages = make(map[string]map[string]datafile.VariableUsage)
	for _, exp := range c.experimentsByKey {
		c.experimentsByID[exp.ID] = exp
		byKey := make(map[string]*Variation, len(exp.Variations))
		byID := make(map[string]*Variation, len(exp.Variations))
		for i := range exp.Variations {
			v := &exp.Variations[i]
			byKey[v.Key] = v
			byID[v.ID] = v
			if len(v.Variables) > 0 {
				usages := make(map[string]datafile.VariableUsage, len(v.Variables))
				for _, u := range v.Variables {
					usages[u.ID] = u
				}
				c.variableUsages[v.ID] = usages
			}
		}
		c.variationsByKey[exp.Key] = byKey
		c.variationsByID[exp.Key] = byID
	}

	c.featuresByKey = make(map[string]*Feature, len(doc.Features))
	for _, raw := range doc.Features {
		feature := &Feature{
			ID:            raw.ID,
			Key:           raw.Key,
			ExperimentIDs: raw.ExperimentIDs,
			LayerID:       raw.LayerID,
			Variables:     make(map[string]datafile.Variable, len(raw.Variables)),
		}
		for _, v := range raw.Variables {
			feature.Variables[v.Key] = v
		}
		// A feature's experiments can belong to at most one mutex group;
		// the first grouped experiment determines the feature's group.
		for _, expID := range raw.ExperimentIDs {
			if exp, ok := c.experimentsByID[expID]; ok && exp.GroupID != "" {
				feature.GroupID = exp.GroupID
				break
			}
		}
		c.featuresByKey[raw.Key] = feature
	}

	c.parsed = true
	return c, nil
}

func newExperiment(raw datafile.Experiment, groupID, groupPolicy string) *Experiment {
	exp := &Experiment{
		ID:                raw.ID,
		Key:               raw.Key,
		Status:            raw.Status,
		LayerID:           raw.LayerID,
		AudienceIDs:       raw.AudienceIDs,
		ForcedVariations:  raw.ForcedVariations,
		TrafficAllocation: raw.TrafficAllocation,
		GroupID:           groupID,
		GroupPolicy:       groupPolicy,
	}
	exp.Variations = make([]Variation, len(raw.Variations))
	for i, v := range raw.Variations {
		exp.Variations[i] = Variation{ID: v.ID, Key: v.Key, Variables: v.Variables}
	}
	return exp
}

// Parsed reports whether the datafile was indexed. When false every lookup
// answers "not found" without logging or reporting.
func (c *Config) Parsed() bool { return c.parsed }

// Version returns the datafile schema version.
func (c *Config) Version() string { return c.version }

// Revision returns the datafile revision.
func (c *Config) Revision() string { return c.revision }

// AccountID returns the owning account id.
func (c *Config) AccountID() string { return c.accountID }

// ProjectID returns the project id.
func (c *Config) ProjectID() string { return c.projectID }

func (c *Config) report(kind LookupKind, value string) {
	err := &LookupError{Kind: kind, Value: value}
	c.logger.Error(err.Error())
	c.reporter.HandleError(err)
}

// ExperimentByKey returns the experiment with the given key, or nil.
func (c *Config) ExperimentByKey(key string) *Experiment {
	if !c.parsed {
		return nil
	}
	if exp, ok := c.experimentsByKey[key]; ok {
		return exp
	}
	c.report(KindExperiment, key)
	return nil
}

// ExperimentByID returns the experiment with the given id, or nil.
func (c *Config) ExperimentByID(id string) *Experiment {
	if !c.parsed {
		return nil
	}
	if exp, ok := c.experimentsByID[id]; ok {
		return exp
	}
	c.report(KindExperiment, id)
	return nil
}

// Experiments returns every indexed experiment sorted by key.
func (c *Config) Experiments() []*Experiment {
	if !c.parsed {
		return nil
	}
	all := make([]*Experiment, 0, len(c.experimentsByKey))
	for _, exp := range c.experimentsByKey {
		all = append(all, exp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all
}

// GroupByID returns the mutex group with the given id, or nil.
func (c *Config) GroupByID(id string) *Group {
	if !c.parsed {
		return nil
	}
	if g, ok := c.groupsByID[id]; ok {
		return g
	}
	c.report(KindGroup, id)
	return nil
}

// AudienceByID returns the audience with the given id, or nil.
func (c *Config) AudienceByID(id string) *Audience {
	if !c.parsed {
		return nil
	}
	if a, ok := c.audiencesByID[id]; ok {
		return a
	}
	c.report(KindAudience, id)
	return nil
}

// VariationByKey returns the named variation of the named experiment, or nil.
func (c *Config) VariationByKey(experimentKey, variationKey string) *Variation {
	if !c.parsed {
		return nil
	}
	variations, ok := c.variationsByKey[experimentKey]
	if !ok {
		c.report(KindExperiment, experimentKey)
		return nil
	}
	if v, ok := variations[variationKey]; ok {
		return v
	}
	c.report(KindVariation, variationKey)
	return nil
}

// VariationByID returns the variation with the given id within the named
// experiment, or nil.
func (c *Config) VariationByID(experimentKey, variationID string) *Variation {
	if !c.parsed {
		return nil
	}
	variations, ok := c.variationsByID[experimentKey]
	if !ok {
		c.report(KindExperiment, experimentKey)
		return nil
	}
	if v, ok := variations[variationID]; ok {
		return v
	}
	c.report(KindVariation, variationID)
	return nil
}

// EventByKey returns the event with the given key, or nil.
func (c *Config) EventByKey(key string) *datafile.Event {
	if !c.parsed {
		return nil
	}
	if e, ok := c.eventsByKey[key]; ok {
		return e
	}
	c.report(KindEvent, key)
	return nil
}

// AttributeByKey returns the attribute with the given key, or nil.
func (c *Config) AttributeByKey(key string) *datafile.Attribute {
	if !c.parsed {
		return nil
	}
	if a, ok := c.attributesByKey[key]; ok {
		return a
	}
	c.report(KindAttribute, key)
	return nil
}

// FeatureByKey returns the feature with the given key, or nil. Unknown
// feature keys are logged but not reported as typed errors.
func (c *Config) FeatureByKey(key string) *Feature {
	if !c.parsed {
		return nil
	}
	if f, ok := c.featuresByKey[key]; ok {
		return f
	}
	c.logger.Error(fmt.Sprintf("Feature %q is not in datafile.", key))
	return nil
}

// LayerByID returns the rollout layer with the given id, or nil.
func (c *Config) LayerByID(id string) *Layer {
	if !c.parsed {
		return nil
	}
	if l, ok := c.layersByID[id]; ok {
		return l
	}
	c.logger.Error(fmt.Sprintf("Layer with ID %q is not in datafile.", id))
	return nil
}

// VariableForFeature returns the named variable defined on the named
// feature, or nil.
func (c *Config) VariableForFeature(featureKey, variableKey string) *datafile.Variable {
	if !c.parsed {
		return nil
	}
	feature, ok := c.featuresByKey[featureKey]
	if !ok {
		c.logger.Error(fmt.Sprintf("Feature %q is not in datafile.", featureKey))
		return nil
	}
	if v, ok := feature.Variables[variableKey]; ok {
		return &v
	}
	c.logger.Error(fmt.Sprintf("Variable %q is not in datafile.", variableKey))
	return nil
}

// VariableValueForVariation returns the typed value of the variable within
// the given variation. When the variation declares no override for the
// variable, the variable's default value is returned. A value that fails to
// parse under the variable's declared type is a configuration-authoring
// defect and the error is returned to the caller.
func (c *Config) VariableValueForVariation(variable *datafile.Variable, variation *Variation) (any, error) {
	if !c.parsed || variable == nil || variation == nil {
		return nil, nil
	}
	usages, ok := c.variableUsages[variation.ID]
	if !ok {
		c.logger.Error(fmt.Sprintf("Variation with ID %q has no variable usages in datafile.", variation.ID))
		return nil, nil
	}
	raw := variable.DefaultValue
	if usage, ok := usages[variable.ID]; ok {
		raw = usage.Value
	}
	return TypedValue(raw, variable.Type)
}

// TypedValue parses a raw string value according to a variable type.
func TypedValue(raw, variableType string) (any, error) {
	switch variableType {
	case datafile.VariableBoolean:
		return raw == "true", nil
	case datafile.VariableInteger:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse integer variable value %q: %w", raw, err)
		}
		return n, nil
	case datafile.VariableDouble:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse double variable value %q: %w", raw, err)
		}
		return f, nil
	default:
		return raw, nil
	}
}
