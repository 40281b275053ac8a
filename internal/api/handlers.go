package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/variantlabs/decider/internal/audience"
	"github.com/variantlabs/decider/internal/decision"
	"github.com/variantlabs/decider/internal/project"
	"github.com/variantlabs/decider/internal/telemetry"
)

type decideRequest struct {
	ExperimentKey string              `json:"experimentKey"`
	UserID        string              `json:"userId"`
	Attributes    audience.Attributes `json:"attributes,omitempty"`
	IgnoreProfile bool                `json:"ignoreProfile,omitempty"`
}

type featureRequest struct {
	UserID     string              `json:"userId"`
	Attributes audience.Attributes `json:"attributes,omitempty"`
}

type decideResponse struct {
	DecisionID    string `json:"decisionId"`
	ExperimentKey string `json:"experimentKey,omitempty"`
	VariationKey  string `json:"variationKey,omitempty"`
	VariationID   string `json:"variationId,omitempty"`
	Source        string `json:"source,omitempty"`
}

// service reads the holder once and builds a decision service over that
// snapshot. Handlers resolve experiments and features from the returned
// config, never from a second holder read, so a reload landing mid-request
// cannot mix entities from one snapshot with a service built over another.
func (s *Server) service() (*decision.Service, *project.Config) {
	cfg := s.holder.Load()
	if cfg == nil || !cfg.Parsed() {
		return nil, nil
	}
	return decision.New(cfg, s.profiles, nil, s.logger), cfg
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExperimentKey == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "experimentKey and userId are required")
		return
	}
	svc, cfg := s.service()
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "no usable datafile")
		return
	}
	exp := cfg.ExperimentByKey(req.ExperimentKey)
	if exp == nil {
		writeError(w, http.StatusNotFound, "experiment not found")
		return
	}

	variation, source := svc.GetVariation(r.Context(), exp, req.UserID, req.Attributes, req.IgnoreProfile)
	resp := decideResponse{
		DecisionID:    uuid.NewString(),
		ExperimentKey: req.ExperimentKey,
	}
	if variation != nil {
		resp.VariationKey = variation.Key
		resp.VariationID = variation.ID
		resp.Source = string(source)
		telemetry.Decisions.WithLabelValues(string(source)).Inc()
	} else {
		telemetry.Decisions.WithLabelValues("none").Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	featureKey := chi.URLParam(r, "featureKey")
	var req featureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	svc, cfg := s.service()
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "no usable datafile")
		return
	}
	feature := cfg.FeatureByKey(featureKey)
	if feature == nil {
		writeError(w, http.StatusNotFound, "feature not found")
		return
	}

	result := svc.GetVariationForFeature(r.Context(), feature, req.UserID, req.Attributes)
	resp := decideResponse{DecisionID: uuid.NewString()}
	if result != nil && result.Variation != nil {
		resp.ExperimentKey = result.Experiment.Key
		resp.VariationKey = result.Variation.Key
		resp.VariationID = result.Variation.ID
		resp.Source = string(result.Source)
		telemetry.Decisions.WithLabelValues(string(result.Source)).Inc()
	} else {
		telemetry.Decisions.WithLabelValues("none").Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVariable(w http.ResponseWriter, r *http.Request) {
	featureKey := chi.URLParam(r, "featureKey")
	variableKey := chi.URLParam(r, "variableKey")
	var req featureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	svc, cfg := s.service()
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "no usable datafile")
		return
	}
	feature := cfg.FeatureByKey(featureKey)
	if feature == nil {
		writeError(w, http.StatusNotFound, "feature not found")
		return
	}
	variable := cfg.VariableForFeature(featureKey, variableKey)
	if variable == nil {
		writeError(w, http.StatusNotFound, "variable not found")
		return
	}

	result := svc.GetVariationForFeature(r.Context(), feature, req.UserID, req.Attributes)
	var variation *project.Variation
	if result != nil {
		variation = result.Variation
	}
	value, err := cfg.VariableValueForVariation(variable, variation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "variable value is malformed")
		return
	}
	if value == nil {
		// User hit no variation, serve the declared default.
		value, err = project.TypedValue(variable.DefaultValue, variable.Type)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "variable default is malformed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"featureKey":  featureKey,
		"variableKey": variableKey,
		"type":        variable.Type,
		"value":       value,
	})
	if result != nil && result.Variation != nil {
		telemetry.Decisions.WithLabelValues(string(result.Source)).Inc()
	}
}
