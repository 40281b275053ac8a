// Package api exposes the decision engine over HTTP. The server evaluates
// every request against the current configuration snapshot; a datafile
// reload swaps the snapshot between requests, never under one.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/variantlabs/decider/internal/auth"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/profile"
	"github.com/variantlabs/decider/internal/snapshot"
	"github.com/variantlabs/decider/internal/telemetry"
)

type Server struct {
	holder         *snapshot.Holder
	profiles       profile.Store
	logger         logging.Logger
	sdkKeyHash     string // empty disables auth (dev mode)
	rateLimitPerIP int
}

func NewServer(holder *snapshot.Holder, profiles profile.Store, logger logging.Logger, sdkKeyHash string, rateLimitPerIP int) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		holder:         holder,
		profiles:       profiles,
		logger:         logger,
		sdkKeyHash:     sdkKeyHash,
		rateLimitPerIP: rateLimitPerIP,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	if s.rateLimitPerIP > 0 {
		r.Use(httprate.LimitByIP(s.rateLimitPerIP, time.Minute))
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authSDK)

		r.With(middleware.Timeout(5 * time.Second)).Group(func(r chi.Router) {
			r.Get("/datafile", s.handleDatafileStatus)
			r.Post("/decide", s.handleDecide)
			r.Post("/features/{featureKey}", s.handleFeature)
			r.Post("/features/{featureKey}/variables/{variableKey}", s.handleVariable)
		})

		// SSE stream of datafile reloads; no timeout middleware here.
		r.Get("/updates", s.handleUpdates)
	})

	return r
}

// authSDK requires a bearer SDK key when one is configured. With no key hash
// configured the API is open, which Validate refuses in production.
func (s *Server) authSDK(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sdkKeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !auth.VerifySDKKey(token, s.sdkKeyHash) {
			writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDatafileStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.holder.Load()
	if cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "no datafile loaded")
		return
	}
	etag := `W/"` + strconv.FormatUint(s.holder.Fingerprint(), 16) + `"`
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  cfg.Version(),
		"revision": cfg.Revision(),
		"parsed":   cfg.Parsed(),
	})
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, unsub := s.holder.Subscribe()
	defer unsub()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case revision := <-updates:
			_, _ = fmt.Fprintf(w, "event: datafile\ndata: %s\n\n", revision)
			flusher.Flush()
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
