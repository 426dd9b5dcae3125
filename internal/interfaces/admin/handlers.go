package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/router"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("admin: failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		status = http.StatusBadRequest
	case domain.ErrNoProvider, domain.ErrAllProvidersFailed:
		status = http.StatusServiceUnavailable
	case domain.ErrAuthInvalid:
		status = http.StatusUnauthorized
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleHealth serves GET /healthz: the aggregate report health() produces.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Health())
}

// handleProviders serves GET /admin/providers, the same payload as
// /healthz's Providers field, exposed separately so operators can poll
// just the provider table without the status/cache-size envelope.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	report := s.orch.Health()
	s.writeJSON(w, http.StatusOK, report.Providers)
}

type setKeyRequest struct {
	Key string `json:"key"`
}

// handleSetKey serves PUT /admin/keys/{provider}. Per AdminSetKey's
// documented contract, this always returns a validation error directing
// the operator to the BYOK key file instead of silently accepting a
// value no other process instance would see.
func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	var req setKeyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.orch.AdminSetKey(provider, req.Key); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

// handleReload serves POST /admin/config/reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.AdminReloadConfig(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

type purgeRequest struct {
	Pattern string `json:"pattern"`
}

type purgeResponse struct {
	Purged int `json:"purged"`
}

// handlePurge serves POST /admin/cache/purge. An empty body or empty
// pattern purges the whole cache.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	n := s.orch.AdminPurgeCache(r.Context(), req.Pattern)
	s.writeJSON(w, http.StatusOK, purgeResponse{Purged: n})
}

type setStrategyRequest struct {
	Strategy string `json:"strategy"`
}

// handleSetStrategy serves PUT /admin/strategy, changing the router's
// default strategy (spec.md §4.4) for subsequent get_price calls that
// don't name their own.
func (s *Server) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	var req setStrategyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.orch.AdminSetStrategy(router.StrategyName(req.Strategy)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found: " + r.URL.Path})
}
