// Package bucketer maps users deterministically into traffic-allocation
// ranges. The same bucketing key always lands on the same bucket value, for
// any process, on any host: the hash is MurmurHash3 32-bit with a fixed seed,
// scaled into basis points of the allocation space.
package bucketer

import (
	"fmt"

	"github.com/twmb/murmur3"

	"github.com/variantlabs/decider/internal/datafile"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/project"
)

// MaxTrafficValue is the size of the bucket space: bucket values are in
// [0, MaxTrafficValue).
const MaxTrafficValue = datafile.MaxTrafficValue

// hashSeed is fixed for compatibility with other SDKs bucketing against the
// same datafile. Changing it reshuffles every user.
const hashSeed = 1

// Bucketer assigns users to variations and group experiments.
type Bucketer struct {
	config *project.Config
	logger logging.Logger
}

// New returns a Bucketer resolving variations through the given index.
func New(config *project.Config, logger logging.Logger) *Bucketer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bucketer{config: config, logger: logger}
}

// GenerateBucketValue hashes a bucketing key into [0, MaxTrafficValue).
// Pure function of its input: no randomness, no time dependency.
func GenerateBucketValue(bucketingKey string) int {
	hash := murmur3.SeedSum32(hashSeed, []byte(bucketingKey))
	// Scale the full 32-bit hash into basis points; using the high bits
	// avoids low-order bit bias.
	return int((uint64(hash) * MaxTrafficValue) >> 32)
}

// FindBucket computes the bucket value for bucketingID scoped under parentID
// and scans the ordered allocation table for the first range that covers it.
// The empty string means the value fell beyond all ranges: the user is in the
// unallocated remainder of the traffic.
func (b *Bucketer) FindBucket(bucketingID, parentID string, allocations []datafile.TrafficAllocation) string {
	value := GenerateBucketValue(bucketingID + parentID)
	b.logger.Debug(fmt.Sprintf("Assigned bucket %d to user %q.", value, bucketingID))
	for _, ta := range allocations {
		if value < ta.EndOfRange {
			return ta.EntityID
		}
	}
	return ""
}

// Bucket assigns the user to a variation of the experiment. When the
// experiment belongs to a random-policy mutex group, group membership is
// confirmed first; a user bucketed into a different experiment of the group
// never falls through to this experiment's own allocation.
func (b *Bucketer) Bucket(experiment *project.Experiment, userID string) *project.Variation {
	if experiment == nil {
		return nil
	}

	if experiment.GroupPolicy == datafile.PolicyRandom {
		group := b.config.GroupByID(experiment.GroupID)
		if group == nil {
			return nil
		}
		bucketedExperimentID := b.FindBucket(userID, group.ID, group.TrafficAllocation)
		if bucketedExperimentID == "" {
			b.logger.Info(fmt.Sprintf("User %q is in no experiment.", userID))
			return nil
		}
		if bucketedExperimentID != experiment.ID {
			b.logger.Info(fmt.Sprintf("User %q is not in experiment %q of group %s.", userID, experiment.Key, group.ID))
			return nil
		}
		b.logger.Info(fmt.Sprintf("User %q is in experiment %s of group %s.", userID, experiment.Key, group.ID))
	}

	variationID := b.FindBucket(userID, experiment.ID, experiment.TrafficAllocation)
	if variationID != "" {
		variation := b.config.VariationByID(experiment.Key, variationID)
		if variation != nil {
			b.logger.Info(fmt.Sprintf("User %q is in variation %q of experiment %s.", userID, variation.Key, experiment.Key))
			return variation
		}
		return nil
	}

	b.logger.Info(fmt.Sprintf("User %q is in no variation.", userID))
	return nil
}
