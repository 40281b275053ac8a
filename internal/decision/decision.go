// Package decision implements the experiment decision pipeline: forced
// variations, stored (sticky) decisions, audience targeting, deterministic
// bucketing, mutex-group resolution, and layered rollout resolution for
// feature flags.
//
// Precedence per decision call, first match wins: experiment not running →
// no result; forced variation; stored decision; audience gate; bucketing.
// The engine owns no mutable state of its own; the only mutable shared
// resource is the externally owned profile store.
package decision

import (
	"context"
	"fmt"

	"github.com/variantlabs/decider/internal/audience"
	"github.com/variantlabs/decider/internal/bucketer"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/profile"
	"github.com/variantlabs/decider/internal/project"
)

// Source describes how a variation was decided.
type Source string

const (
	SourceForced     Source = "forced"
	SourceStored     Source = "stored"
	SourceExperiment Source = "experiment"
	SourceRollout    Source = "rollout"
)

// Result pairs a chosen variation with the experiment that owns it and how
// it was decided. Downstream consumers build impression records from it.
type Result struct {
	Experiment *project.Experiment
	Variation  *project.Variation
	Source     Source
}

// Service runs the decision pipeline against one configuration snapshot.
// It is stateless apart from the injected collaborators and safe for
// concurrent use.
type Service struct {
	config    *project.Config
	bucketer  *bucketer.Bucketer
	profiles  profile.Store // nil disables sticky decisions
	evaluator audience.Evaluator
	logger    logging.Logger
}

// New builds a decision service over the given configuration snapshot.
// profiles may be nil; evaluator defaults to the tree evaluator.
func New(config *project.Config, profiles profile.Store, evaluator audience.Evaluator, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	if evaluator == nil {
		evaluator = audience.TreeEvaluator{}
	}
	return &Service{
		config:    config,
		bucketer:  bucketer.New(config, logger),
		profiles:  profiles,
		evaluator: evaluator,
		logger:    logger,
	}
}

// GetForcedVariation returns the variation the user is forced into for this
// experiment, if any. A forced entry naming a variation key that does not
// resolve is treated as "no forced decision", not a hard failure.
func (s *Service) GetForcedVariation(experiment *project.Experiment, userID string) *project.Variation {
	variationKey, ok := experiment.ForcedVariations[userID]
	if !ok {
		return nil
	}
	variation := s.config.VariationByKey(experiment.Key, variationKey)
	if variation != nil {
		s.logger.Info(fmt.Sprintf("User %q is forced in variation %q.", userID, variationKey))
	}
	return variation
}

// GetStoredVariation returns the variation recorded in the user's profile
// for this experiment, if it still resolves in the current datafile.
func (s *Service) GetStoredVariation(experiment *project.Experiment, prof *profile.Profile) *project.Variation {
	variationID := prof.VariationFor(experiment.ID)
	if variationID == "" {
		return nil
	}
	variation := s.config.VariationByID(experiment.Key, variationID)
	if variation != nil {
		s.logger.Info(fmt.Sprintf("Found a stored decision. User %q is in variation %q of experiment %q.",
			prof.UserID, variation.Key, experiment.Key))
	}
	return variation
}

// GetVariation determines the variation the user should see for the
// experiment. ignoreProfile skips both the sticky lookup and the write-back,
// which is how rollout evaluation runs.
func (s *Service) GetVariation(ctx context.Context, experiment *project.Experiment, userID string, attrs audience.Attributes, ignoreProfile bool) (*project.Variation, Source) {
	if !experiment.IsRunning() {
		s.logger.Info(fmt.Sprintf("Experiment %q is not running.", experiment.Key))
		return nil, ""
	}

	if variation := s.GetForcedVariation(experiment, userID); variation != nil {
		return variation, SourceForced
	}

	prof := profile.New(userID)
	useProfile := !ignoreProfile && s.profiles != nil
	if useProfile {
		retrieved, err := s.profiles.Lookup(ctx, userID)
		if err != nil {
			s.logger.Error(fmt.Sprintf("Unable to retrieve user profile for user %q as lookup failed. Error: %s", userID, err))
			retrieved = nil
		}
		if retrieved != nil {
			if retrieved.Valid() {
				prof = retrieved
				if variation := s.GetStoredVariation(experiment, prof); variation != nil {
					return variation, SourceStored
				}
			} else {
				s.logger.Warning("User profile has invalid format.")
			}
		}
	}

	if !s.userInExperiment(experiment, attrs) {
		s.logger.Info(fmt.Sprintf("User %q does not meet conditions to be in experiment %q.", userID, experiment.Key))
		return nil, ""
	}

	variation := s.bucketer.Bucket(experiment, userID)
	if variation == nil {
		return nil, ""
	}

	if useProfile {
		prof.SetVariationFor(experiment.ID, variation.ID)
		if err := s.profiles.Save(ctx, prof); err != nil {
			s.logger.Error(fmt.Sprintf("Unable to save user profile for user %q. Error: %s", userID, err))
		}
	}
	return variation, SourceExperiment
}

// userInExperiment evaluates the experiment's audience gate. An experiment
// with no audiences admits everyone; audiences with nil attributes admit no
// one; otherwise any matching audience admits the user.
func (s *Service) userInExperiment(experiment *project.Experiment, attrs audience.Attributes) bool {
	if len(experiment.AudienceIDs) == 0 {
		return true
	}
	if attrs == nil {
		return false
	}
	for _, audienceID := range experiment.AudienceIDs {
		aud := s.config.AudienceByID(audienceID)
		if aud != nil && s.evaluator.Matches(aud.Parsed, attrs) {
			return true
		}
	}
	return false
}

// GetVariationForLayer walks the layer's experiments in declared order and
// returns the first qualifying decision. Rollouts never touch the profile
// store: the cascade is re-evaluated on every call.
func (s *Service) GetVariationForLayer(ctx context.Context, layer *project.Layer, userID string, attrs audience.Attributes) *Result {
	if layer == nil {
		return nil
	}
	for _, ref := range layer.Experiments {
		experiment := s.config.ExperimentByKey(ref.Key)
		if experiment == nil {
			continue
		}
		variation, _ := s.GetVariation(ctx, experiment, userID, attrs, true)
		if variation != nil {
			s.logger.Debug(fmt.Sprintf("User %q is in variation %s of experiment %s.", userID, variation.Key, experiment.Key))
			return &Result{Experiment: experiment, Variation: variation, Source: SourceRollout}
		}
	}
	return nil
}

// GetVariationForFeature resolves the variation a user gets for a feature
// flag. Strategies in priority order: the feature's mutex group, its single
// associated experiment, then its rollout layer.
func (s *Service) GetVariationForFeature(ctx context.Context, feature *project.Feature, userID string, attrs audience.Attributes) *Result {
	var result *Result

	switch {
	case feature.GroupID != "":
		group := s.config.GroupByID(feature.GroupID)
		if group != nil {
			experiment := s.GetExperimentInGroup(group, userID)
			// The user may be bucketed into a group experiment that is not
			// associated with this feature; that yields no experiment-based
			// variation and falls through to the rollout.
			if experiment != nil && containsID(feature.ExperimentIDs, experiment.ID) {
				if variation, source := s.GetVariation(ctx, experiment, userID, attrs, false); variation != nil {
					s.logger.Debug(fmt.Sprintf("User %q is in variation %s of experiment %s.", userID, variation.Key, experiment.Key))
					result = &Result{Experiment: experiment, Variation: variation, Source: source}
				}
			}
		}
	case len(feature.ExperimentIDs) > 0:
		// A non-grouped feature is constrained to exactly one experiment.
		experiment := s.config.ExperimentByID(feature.ExperimentIDs[0])
		if experiment != nil {
			if variation, source := s.GetVariation(ctx, experiment, userID, attrs, false); variation != nil {
				s.logger.Debug(fmt.Sprintf("User %q is in variation %s of experiment %s.", userID, variation.Key, experiment.Key))
				result = &Result{Experiment: experiment, Variation: variation, Source: source}
			}
		}
	}

	if result == nil && feature.LayerID != "" {
		layer := s.config.LayerByID(feature.LayerID)
		result = s.GetVariationForLayer(ctx, layer, userID, attrs)
	}
	return result
}

// GetExperimentInGroup determines which experiment of the group, if any, the
// user is bucketed into.
func (s *Service) GetExperimentInGroup(group *project.Group, userID string) *project.Experiment {
	experimentID := s.bucketer.FindBucket(userID, group.ID, group.TrafficAllocation)
	if experimentID != "" {
		experiment := s.config.ExperimentByID(experimentID)
		if experiment != nil {
			s.logger.Info(fmt.Sprintf("User %q is in experiment %s of group %s.", userID, experiment.Key, group.ID))
			return experiment
		}
	}
	s.logger.Info(fmt.Sprintf("User %q is not in any experiments of group %s.", userID, group.ID))
	return nil
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
