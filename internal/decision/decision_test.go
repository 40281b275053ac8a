package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/variantlabs/decider/internal/audience"
	"github.com/variantlabs/decider/internal/datafile"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/profile"
	"github.com/variantlabs/decider/internal/project"
	"github.com/variantlabs/decider/internal/report"
	"github.com/variantlabs/decider/internal/testutil"
)

var matchingAttrs = audience.Attributes{"test_attribute": "test_value"}

func loadConfig(t *testing.T, doc *datafile.Document) *project.Config {
	t.Helper()
	cfg, err := project.Load(doc, logging.NewNop(), report.NopHandler{})
	if err != nil {
		t.Fatalf("load document: %v", err)
	}
	return cfg
}

// countingStore wraps a memory store and counts calls, so tests can assert
// that a pipeline stage never touched the profile store.
type countingStore struct {
	inner   *profile.MemoryStore
	lookups int
	saves   int
}

func newCountingStore() *countingStore {
	return &countingStore{inner: profile.NewMemoryStore()}
}

func (c *countingStore) Lookup(ctx context.Context, userID string) (*profile.Profile, error) {
	c.lookups++
	return c.inner.Lookup(ctx, userID)
}

func (c *countingStore) Save(ctx context.Context, prof *profile.Profile) error {
	c.saves++
	return c.inner.Save(ctx, prof)
}

func (c *countingStore) Close() error { return c.inner.Close() }

// faultyStore fails lookups, saves, or both.
type faultyStore struct {
	inner      profile.Store
	lookupErr  error
	saveErr    error
	saveCalled bool
}

func (f *faultyStore) Lookup(ctx context.Context, userID string) (*profile.Profile, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.inner.Lookup(ctx, userID)
}

func (f *faultyStore) Save(ctx context.Context, prof *profile.Profile) error {
	f.saveCalled = true
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.inner.Save(ctx, prof)
}

func (f *faultyStore) Close() error { return nil }

// invalidProfileStore returns a structurally broken profile.
type invalidProfileStore struct{}

func (invalidProfileStore) Lookup(context.Context, string) (*profile.Profile, error) {
	return &profile.Profile{}, nil
}
func (invalidProfileStore) Save(context.Context, *profile.Profile) error { return nil }
func (invalidProfileStore) Close() error                                 { return nil }

func TestGetVariationNotRunning(t *testing.T) {
	rec := &testutil.RecLogger{}
	cfg := testutil.SampleConfigWith(t, rec, report.NopHandler{})
	svc := New(cfg, newCountingStore(), nil, rec)

	variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("paused_experiment"), "user_1", matchingAttrs, false)
	if variation != nil || source != "" {
		t.Fatalf("expected no decision for paused experiment, got %+v source %q", variation, source)
	}

	entries := rec.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d: %v", len(entries), entries)
	}
	if entries[0].Message != `Experiment "paused_experiment" is not running.` {
		t.Errorf("unexpected log message: %q", entries[0].Message)
	}
}

func TestGetVariationForced(t *testing.T) {
	rec := &testutil.RecLogger{}
	cfg := testutil.SampleConfigWith(t, rec, report.NopHandler{})
	store := newCountingStore()
	svc := New(cfg, store, nil, rec)

	// Forced decisions need no attributes and never consult the store.
	variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_1", nil, false)
	if variation == nil || variation.Key != "control" {
		t.Fatalf("expected forced control, got %+v", variation)
	}
	if source != SourceForced {
		t.Errorf("source = %q, want forced", source)
	}
	if store.lookups != 0 || store.saves != 0 {
		t.Errorf("forced decision touched the profile store: %d lookups, %d saves", store.lookups, store.saves)
	}
	if !rec.Contains(logging.LevelInfo, `User "user_1" is forced in variation "control".`) {
		t.Error("expected forced-variation log")
	}
}

func TestGetVariationForcedDanglingKeyFallsThrough(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].ForcedVariations["user_9"] = "deleted_variation"
	cfg := loadConfig(t, doc)
	svc := New(cfg, nil, nil, nil)

	// The dangling forced entry is skipped; with no attributes the audience
	// gate then rejects the user.
	variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_9", nil, false)
	if variation != nil || source != "" {
		t.Fatalf("expected fall-through to no decision, got %+v source %q", variation, source)
	}
}

func TestGetVariationStored(t *testing.T) {
	rec := &testutil.RecLogger{}
	cfg := testutil.SampleConfigWith(t, rec, report.NopHandler{})
	store := profile.NewMemoryStore()

	prof := profile.New("sticky_user")
	prof.SetVariationFor("111127", "111128")
	if err := store.Save(context.Background(), prof); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	svc := New(cfg, store, nil, rec)
	variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "sticky_user", matchingAttrs, false)
	if variation == nil || variation.ID != "111128" {
		t.Fatalf("expected stored control variation, got %+v", variation)
	}
	if source != SourceStored {
		t.Errorf("source = %q, want stored", source)
	}
	if !rec.Contains(logging.LevelInfo, `Found a stored decision. User "sticky_user" is in variation "control" of experiment "test_experiment".`) {
		t.Error("expected stored-decision log")
	}
	if rec.Contains(logging.LevelDebug, "Assigned bucket") {
		t.Error("stored decision must not reach the bucketer")
	}
}

func TestGetVariationStoredDanglingVariation(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "111129", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)
	store := profile.NewMemoryStore()

	prof := profile.New("sticky_user")
	prof.SetVariationFor("111127", "999999") // no longer in the datafile
	if err := store.Save(context.Background(), prof); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	svc := New(cfg, store, nil, nil)
	variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "sticky_user", matchingAttrs, false)
	if variation == nil || variation.ID != "111129" {
		t.Fatalf("expected fresh bucketing past the stale stored decision, got %+v", variation)
	}
	if source != SourceExperiment {
		t.Errorf("source = %q, want experiment", source)
	}
}

func TestGetVariationLookupFailureProceedsAndSaves(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "111129", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)

	rec := &testutil.RecLogger{}
	store := &faultyStore{inner: profile.NewMemoryStore(), lookupErr: errors.New("connection refused")}
	svc := New(cfg, store, nil, rec)

	variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_3", matchingAttrs, false)
	if variation == nil || variation.ID != "111129" {
		t.Fatalf("lookup failure must not block the decision, got %+v", variation)
	}
	if source != SourceExperiment {
		t.Errorf("source = %q, want experiment", source)
	}
	if !rec.Contains(logging.LevelError, `Unable to retrieve user profile for user "user_3" as lookup failed. Error: connection refused`) {
		t.Error("expected lookup-failure error log")
	}
	if !store.saveCalled {
		t.Error("decision should still be written back after a failed lookup")
	}
}

func TestGetVariationSaveFailureStillDecides(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "111128", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)

	rec := &testutil.RecLogger{}
	store := &faultyStore{inner: profile.NewMemoryStore(), saveErr: errors.New("disk full")}
	svc := New(cfg, store, nil, rec)

	variation, _ := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_3", matchingAttrs, false)
	if variation == nil || variation.ID != "111128" {
		t.Fatalf("save failure must not block the decision, got %+v", variation)
	}
	if !rec.Contains(logging.LevelError, `Unable to save user profile for user "user_3". Error: disk full`) {
		t.Error("expected save-failure error log")
	}
}

func TestGetVariationInvalidProfile(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "111128", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)

	rec := &testutil.RecLogger{}
	svc := New(cfg, invalidProfileStore{}, nil, rec)

	variation, _ := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_3", matchingAttrs, false)
	if variation == nil {
		t.Fatal("invalid profile must not block the decision")
	}
	if !rec.Contains(logging.LevelWarning, "User profile has invalid format.") {
		t.Error("expected invalid-profile warning")
	}
}

func TestGetVariationIgnoreProfile(t *testing.T) {
	cfg := testutil.SampleConfig(t)
	store := newCountingStore()
	svc := New(cfg, store, nil, nil)

	svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_3", matchingAttrs, true)
	if store.lookups != 0 || store.saves != 0 {
		t.Errorf("ignoreProfile touched the store: %d lookups, %d saves", store.lookups, store.saves)
	}
}

func TestGetVariationAudienceGate(t *testing.T) {
	rec := &testutil.RecLogger{}
	cfg := testutil.SampleConfigWith(t, rec, report.NopHandler{})
	svc := New(cfg, nil, nil, rec)

	tests := []struct {
		name  string
		attrs audience.Attributes
	}{
		{"nil attributes", nil},
		{"non-matching attributes", audience.Attributes{"test_attribute": "wrong"}},
		{"unrelated attributes", audience.Attributes{"other": "test_value"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_3", tc.attrs, false)
			if variation != nil || source != "" {
				t.Fatalf("expected audience gate to reject, got %+v source %q", variation, source)
			}
			if !rec.Contains(logging.LevelInfo, `User "user_3" does not meet conditions to be in experiment "test_experiment".`) {
				t.Error("expected audience-rejection log")
			}
		})
	}
}

func TestGetVariationNoAudiencesAdmitsEveryone(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].AudienceIDs = nil
	doc.Experiments[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "111128", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)
	svc := New(cfg, nil, nil, nil)

	variation, source := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_3", nil, false)
	if variation == nil || source != SourceExperiment {
		t.Fatalf("audience-free experiment should admit nil attributes, got %+v source %q", variation, source)
	}
}

func TestGetVariationForFeatureSingleExperiment(t *testing.T) {
	cfg := testutil.SampleConfig(t)
	svc := New(cfg, nil, nil, nil)

	result := svc.GetVariationForFeature(context.Background(), cfg.FeatureByKey("test_feature_1"), "user_1", nil)
	if result == nil || result.Variation == nil {
		t.Fatal("expected the forced decision through the feature's experiment")
	}
	if result.Experiment.Key != "test_experiment" || result.Variation.Key != "control" {
		t.Errorf("got %s/%s, want test_experiment/control", result.Experiment.Key, result.Variation.Key)
	}
	if result.Source != SourceForced {
		t.Errorf("source = %q, want forced", result.Source)
	}
}

func TestGetVariationForFeatureGroup(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Groups[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "32222", EndOfRange: datafile.MaxTrafficValue},
	}
	doc.Groups[0].Experiments[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "28901", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)
	svc := New(cfg, nil, nil, nil)

	result := svc.GetVariationForFeature(context.Background(), cfg.FeatureByKey("test_feature_in_group"), "user_3", nil)
	if result == nil || result.Variation == nil {
		t.Fatal("expected a group-experiment decision")
	}
	if result.Experiment.Key != "group_exp_1" || result.Variation.Key != "group_exp_1_control" {
		t.Errorf("got %s/%s, want group_exp_1/group_exp_1_control", result.Experiment.Key, result.Variation.Key)
	}
	if result.Source != SourceExperiment {
		t.Errorf("source = %q, want experiment", result.Source)
	}
}

func TestGetVariationForFeatureGroupMismatch(t *testing.T) {
	doc := testutil.SampleDocument()
	// Every user lands in group_exp_2, which the feature is not tied to.
	doc.Groups[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "32223", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)
	svc := New(cfg, nil, nil, nil)

	result := svc.GetVariationForFeature(context.Background(), cfg.FeatureByKey("test_feature_in_group"), "user_3", nil)
	if result != nil {
		t.Fatalf("expected no decision when bucketed into a non-associated group experiment, got %+v", result)
	}
}

func TestGetVariationForFeatureRollout(t *testing.T) {
	cfg := testutil.SampleConfig(t)
	svc := New(cfg, nil, nil, nil)

	result := svc.GetVariationForFeature(context.Background(), cfg.FeatureByKey("test_feature_2"), "user_3", matchingAttrs)
	if result == nil || result.Variation == nil {
		t.Fatal("expected a rollout decision")
	}
	if result.Variation.Key != "test_rollout_exp_1_default" {
		t.Errorf("variation = %q, want test_rollout_exp_1_default", result.Variation.Key)
	}
	if result.Source != SourceRollout {
		t.Errorf("source = %q, want rollout", result.Source)
	}

	// The rollout experiment is audience gated too.
	if result := svc.GetVariationForFeature(context.Background(), cfg.FeatureByKey("test_feature_2"), "user_3", nil); result != nil {
		t.Errorf("expected audience gate to reject the rollout, got %+v", result)
	}
}

func TestGetVariationForFeatureExperimentThenRollout(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].Status = datafile.StatusPaused
	cfg := loadConfig(t, doc)
	svc := New(cfg, nil, nil, nil)

	// With the experiment paused, the feature falls back to its rollout.
	result := svc.GetVariationForFeature(context.Background(), cfg.FeatureByKey("test_feature_in_experiment_and_rollout"), "user_3", matchingAttrs)
	if result == nil || result.Variation == nil {
		t.Fatal("expected the rollout fallback")
	}
	if result.Source != SourceRollout || result.Variation.Key != "test_rollout_exp_1_default" {
		t.Errorf("got %q/%q, want rollout/test_rollout_exp_1_default", result.Source, result.Variation.Key)
	}
}

func TestGetVariationForLayerOrderedCascade(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Audiences = append(doc.Audiences, datafile.Audience{
		ID:         "11155",
		Name:       "Nobody",
		Conditions: `[{"name": "secret_handshake", "type": "custom_attribute", "value": "known"}]`,
	})
	doc.Layers[0].Experiments = []datafile.Experiment{
		{
			ID:          "211112",
			Key:         "rollout_stage_1",
			Status:      datafile.StatusRunning,
			LayerID:     "211111",
			AudienceIDs: []string{"11155"},
			Variations: []datafile.Variation{
				{ID: "211113", Key: "stage_1_default"},
			},
			ForcedVariations: map[string]string{},
			TrafficAllocation: []datafile.TrafficAllocation{
				{EntityID: "211113", EndOfRange: datafile.MaxTrafficValue},
			},
		},
		{
			ID:          "211114",
			Key:         "rollout_stage_2",
			Status:      datafile.StatusRunning,
			LayerID:     "211111",
			AudienceIDs: []string{"11154"},
			Variations: []datafile.Variation{
				{ID: "211115", Key: "stage_2_default"},
			},
			ForcedVariations: map[string]string{},
			TrafficAllocation: []datafile.TrafficAllocation{
				{EntityID: "211115", EndOfRange: datafile.MaxTrafficValue},
			},
		},
		{
			ID:     "211116",
			Key:    "rollout_everyone",
			Status: datafile.StatusRunning,
			Variations: []datafile.Variation{
				{ID: "211117", Key: "everyone_default"},
			},
			ForcedVariations: map[string]string{},
			TrafficAllocation: []datafile.TrafficAllocation{
				{EntityID: "211117", EndOfRange: datafile.MaxTrafficValue},
			},
		},
	}
	cfg := loadConfig(t, doc)
	svc := New(cfg, nil, nil, nil)
	layer := cfg.LayerByID("211111")

	// The user fails stage 1's audience but passes stage 2: the cascade
	// stops there and never reaches the catch-all stage.
	result := svc.GetVariationForLayer(context.Background(), layer, "user_3", matchingAttrs)
	if result == nil || result.Variation == nil {
		t.Fatal("expected a cascade decision")
	}
	if result.Experiment.Key != "rollout_stage_2" || result.Variation.Key != "stage_2_default" {
		t.Errorf("got %s/%s, want rollout_stage_2/stage_2_default", result.Experiment.Key, result.Variation.Key)
	}

	// Without matching attributes only the catch-all admits the user.
	result = svc.GetVariationForLayer(context.Background(), layer, "user_3", audience.Attributes{"other": "x"})
	if result == nil || result.Experiment.Key != "rollout_everyone" {
		t.Fatalf("expected the catch-all stage, got %+v", result)
	}
}

func TestGetVariationForLayerNil(t *testing.T) {
	svc := New(testutil.SampleConfig(t), nil, nil, nil)
	if result := svc.GetVariationForLayer(context.Background(), nil, "user_3", nil); result != nil {
		t.Fatalf("expected nil for nil layer, got %+v", result)
	}
}

func TestGetExperimentInGroup(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Groups[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "32223", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)
	rec := &testutil.RecLogger{}
	svc := New(cfg, nil, nil, rec)

	exp := svc.GetExperimentInGroup(cfg.GroupByID("19228"), "user_3")
	if exp == nil || exp.Key != "group_exp_2" {
		t.Fatalf("expected group_exp_2, got %+v", exp)
	}
	if !rec.Contains(logging.LevelInfo, `User "user_3" is in experiment group_exp_2 of group 19228.`) {
		t.Error("expected group membership log")
	}
}

func TestGetExperimentInGroupUnallocated(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Groups[0].TrafficAllocation = nil
	cfg := loadConfig(t, doc)
	rec := &testutil.RecLogger{}
	svc := New(cfg, nil, nil, rec)

	if exp := svc.GetExperimentInGroup(cfg.GroupByID("19228"), "user_3"); exp != nil {
		t.Fatalf("expected no group experiment, got %+v", exp)
	}
	if !rec.Contains(logging.LevelInfo, `User "user_3" is not in any experiments of group 19228.`) {
		t.Error("expected no-group-experiment log")
	}
}

func TestGetVariationWritesDecisionBack(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Experiments[0].TrafficAllocation = []datafile.TrafficAllocation{
		{EntityID: "111128", EndOfRange: datafile.MaxTrafficValue},
	}
	cfg := loadConfig(t, doc)
	store := profile.NewMemoryStore()
	svc := New(cfg, store, nil, nil)

	if variation, _ := svc.GetVariation(context.Background(), cfg.ExperimentByKey("test_experiment"), "user_3", matchingAttrs, false); variation == nil {
		t.Fatal("expected a bucketed decision")
	}

	prof, err := store.Lookup(context.Background(), "user_3")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if prof == nil || prof.VariationFor("111127") != "111128" {
		t.Fatalf("decision was not written back: %+v", prof)
	}
}
