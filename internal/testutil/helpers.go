// Package testutil provides shared test fixtures: a canonical project
// document exercising every entity kind, and a logger that records what was
// logged so tests can assert on decision messages.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/variantlabs/decider/internal/datafile"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/project"
	"github.com/variantlabs/decider/internal/report"
)

// LogEntry is one recorded log call.
type LogEntry struct {
	Level   logging.Level
	Message string
}

// RecLogger records every log call for later assertion.
type RecLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (r *RecLogger) record(level logging.Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, LogEntry{Level: level, Message: msg})
}

func (r *RecLogger) Debug(msg string)   { r.record(logging.LevelDebug, msg) }
func (r *RecLogger) Info(msg string)    { r.record(logging.LevelInfo, msg) }
func (r *RecLogger) Warning(msg string) { r.record(logging.LevelWarning, msg) }
func (r *RecLogger) Error(msg string)   { r.record(logging.LevelError, msg) }

// Entries returns a copy of everything logged so far.
func (r *RecLogger) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Contains reports whether a message at the given level containing the given
// substring was logged.
func (r *RecLogger) Contains(level logging.Level, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// SampleDocument builds the canonical test datafile: a running audience-gated
// experiment with forced variations, a mutex group of two experiments, an
// ordered rollout layer, and features covering every association strategy.
func SampleDocument() *datafile.Document {
	return &datafile.Document{
		Version:   datafile.VersionV2,
		AccountID: "12001",
		ProjectID: "111001",
		Revision:  "42",
		Experiments: []datafile.Experiment{
			{
				ID:          "111127",
				Key:         "test_experiment",
				Status:      datafile.StatusRunning,
				LayerID:     "111182",
				AudienceIDs: []string{"11154"},
				Variations: []datafile.Variation{
					{ID: "111128", Key: "control", Variables: []datafile.VariableUsage{{ID: "127", Value: "false"}}},
					{ID: "111129", Key: "variation", Variables: []datafile.VariableUsage{{ID: "127", Value: "true"}}},
				},
				ForcedVariations: map[string]string{"user_1": "control", "user_2": "control"},
				TrafficAllocation: []datafile.TrafficAllocation{
					{EntityID: "111128", EndOfRange: 4000},
					{EntityID: "", EndOfRange: 5000},
					{EntityID: "111129", EndOfRange: 9000},
				},
			},
			{
				ID:     "111130",
				Key:    "paused_experiment",
				Status: datafile.StatusPaused,
				Variations: []datafile.Variation{
					{ID: "111131", Key: "control"},
				},
				ForcedVariations: map[string]string{},
				TrafficAllocation: []datafile.TrafficAllocation{
					{EntityID: "111131", EndOfRange: 10000},
				},
			},
		},
		Groups: []datafile.Group{
			{
				ID:     "19228",
				Policy: datafile.PolicyRandom,
				Experiments: []datafile.Experiment{
					{
						ID:      "32222",
						Key:     "group_exp_1",
						Status:  datafile.StatusRunning,
						LayerID: "111183",
						Variations: []datafile.Variation{
							{ID: "28901", Key: "group_exp_1_control", Variables: []datafile.VariableUsage{{ID: "155", Value: "10"}}},
							{ID: "28902", Key: "group_exp_1_variation", Variables: []datafile.VariableUsage{{ID: "155", Value: "20"}}},
						},
						ForcedVariations: map[string]string{},
						TrafficAllocation: []datafile.TrafficAllocation{
							{EntityID: "28901", EndOfRange: 3000},
							{EntityID: "28902", EndOfRange: 9000},
						},
					},
					{
						ID:      "32223",
						Key:     "group_exp_2",
						Status:  datafile.StatusRunning,
						LayerID: "111184",
						Variations: []datafile.Variation{
							{ID: "28905", Key: "group_exp_2_control"},
							{ID: "28906", Key: "group_exp_2_variation"},
						},
						ForcedVariations: map[string]string{},
						TrafficAllocation: []datafile.TrafficAllocation{
							{EntityID: "28905", EndOfRange: 8000},
							{EntityID: "28906", EndOfRange: 10000},
						},
					},
				},
				TrafficAllocation: []datafile.TrafficAllocation{
					{EntityID: "32222", EndOfRange: 3000},
					{EntityID: "32223", EndOfRange: 7500},
				},
			},
		},
		Layers: []datafile.Layer{
			{
				ID:   "211111",
				Type: "ordered",
				Experiments: []datafile.Experiment{
					{
						ID:          "211112",
						Key:         "test_rollout_exp_1",
						Status:      datafile.StatusRunning,
						LayerID:     "211111",
						AudienceIDs: []string{"11154"},
						Variations: []datafile.Variation{
							{ID: "211113", Key: "test_rollout_exp_1_default", Variables: []datafile.VariableUsage{{ID: "131", Value: "15"}}},
						},
						ForcedVariations: map[string]string{},
						TrafficAllocation: []datafile.TrafficAllocation{
							{EntityID: "211113", EndOfRange: 10000},
						},
					},
				},
			},
		},
		Events: []datafile.Event{
			{ID: "111095", Key: "test_event", ExperimentIDs: []string{"111127"}},
		},
		Attributes: []datafile.Attribute{
			{ID: "111094", Key: "test_attribute"},
		},
		Audiences: []datafile.Audience{
			{
				ID:         "11154",
				Name:       "Test audience",
				Conditions: `["and", ["or", ["or", {"name": "test_attribute", "type": "custom_attribute", "value": "test_value"}]]]`,
			},
		},
		Features: []datafile.Feature{
			{
				ID:            "91111",
				Key:           "test_feature_1",
				ExperimentIDs: []string{"111127"},
				Variables: []datafile.Variable{
					{ID: "127", Key: "is_working", Type: datafile.VariableBoolean, DefaultValue: "true"},
					{ID: "128", Key: "environment", Type: datafile.VariableString, DefaultValue: "devel"},
					{ID: "129", Key: "number_of_days", Type: datafile.VariableInteger, DefaultValue: "192"},
					{ID: "130", Key: "significance_value", Type: datafile.VariableDouble, DefaultValue: "0.00098"},
				},
			},
			{
				ID:      "91112",
				Key:     "test_feature_2",
				LayerID: "211111",
				Variables: []datafile.Variable{
					{ID: "131", Key: "number_of_projects", Type: datafile.VariableInteger, DefaultValue: "10"},
				},
			},
			{
				ID:            "91113",
				Key:           "test_feature_in_group",
				ExperimentIDs: []string{"32222"},
				Variables: []datafile.Variable{
					{ID: "155", Key: "max_seats", Type: datafile.VariableInteger, DefaultValue: "5"},
				},
			},
			{
				ID:            "91114",
				Key:           "test_feature_in_experiment_and_rollout",
				ExperimentIDs: []string{"111127"},
				LayerID:       "211111",
				Variables:     []datafile.Variable{},
			},
		},
	}
}

// SampleConfig indexes the canonical document, failing the test on any load
// error.
func SampleConfig(t *testing.T) *project.Config {
	t.Helper()
	return SampleConfigWith(t, logging.NewNop(), report.NopHandler{})
}

// SampleConfigWith indexes the canonical document with the given logger and
// error reporter.
func SampleConfigWith(t *testing.T, logger logging.Logger, reporter report.Handler) *project.Config {
	t.Helper()
	cfg, err := project.Load(SampleDocument(), logger, reporter)
	if err != nil {
		t.Fatalf("load sample document: %v", err)
	}
	if !cfg.Parsed() {
		t.Fatal("sample document did not parse")
	}
	return cfg
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
