// Package profile holds user profiles (sticky experiment decisions) and the
// persistence contract behind them.
//
// The store is the only mutable shared state the decision core touches. A
// decision call reads a profile, maybe buckets, and writes the profile back
// without any read-modify-write atomicity; two concurrent calls for the same
// user and experiment can race and the last write wins. That is an accepted
// relaxed-consistency tradeoff, not something implementations should try to
// lock around.
package profile

import "context"

// Decision records the sticky variation for one experiment.
type Decision struct {
	VariationID string `json:"variation_id"`
}

// Profile is a user's saved decisions, keyed by experiment id.
type Profile struct {
	UserID              string              `json:"user_id"`
	ExperimentBucketMap map[string]Decision `json:"experiment_bucket_map"`
}

// New returns an empty profile for the user.
func New(userID string) *Profile {
	return &Profile{
		UserID:              userID,
		ExperimentBucketMap: map[string]Decision{},
	}
}

// Valid reports whether the profile has the shape the decision engine
// requires: a user id and a bucket map. Anything else is treated as "no
// profile".
func (p *Profile) Valid() bool {
	return p != nil && p.UserID != "" && p.ExperimentBucketMap != nil
}

// VariationFor returns the stored variation id for the experiment, or "".
func (p *Profile) VariationFor(experimentID string) string {
	if p == nil {
		return ""
	}
	return p.ExperimentBucketMap[experimentID].VariationID
}

// SetVariationFor records a decision for the experiment.
func (p *Profile) SetVariationFor(experimentID, variationID string) {
	if p.ExperimentBucketMap == nil {
		p.ExperimentBucketMap = map[string]Decision{}
	}
	p.ExperimentBucketMap[experimentID] = Decision{VariationID: variationID}
}

// Store is the external sticky-decision persistence contract. Lookup returns
// (nil, nil) when no profile exists for the user. Both operations may fail;
// the decision engine catches and logs failures, it never propagates them.
type Store interface {
	Lookup(ctx context.Context, userID string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
	Close() error
}
