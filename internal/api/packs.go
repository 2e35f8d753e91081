package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/logtide-dev/logtide/internal/core"
	"github.com/logtide-dev/logtide/internal/detection"
	"github.com/logtide-dev/logtide/internal/middleware"
	"github.com/logtide-dev/logtide/internal/store"
)

// packView is a catalog pack annotated with the tenant's activation.
type packView struct {
	core.DetectionPack
	Enabled    bool                              `json:"enabled"`
	Thresholds map[string]core.ThresholdOverride `json:"thresholds,omitempty"`
}

// handleListPacks returns the catalog with the tenant's activation state
// merged in.
func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())

	activations, err := s.store.ListActivations(r.Context(), tenantID)
	if err != nil {
		s.logger.Printf("❌ Failed to list activations for %s: %v", tenantID, err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load activations")
		return
	}
	byPack := make(map[string]*core.PackActivation, len(activations))
	for i := range activations {
		byPack[activations[i].PackID] = &activations[i]
	}

	packs := s.catalog.ListPacks()
	out := make([]packView, 0, len(packs))
	for _, p := range packs {
		v := packView{DetectionPack: p}
		if a, ok := byPack[p.ID]; ok {
			v.Enabled = a.Enabled
			v.Thresholds = a.Thresholds
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEnablePack activates a pack for the tenant. The body may carry
// a thresholds map; re-enabling without one keeps whatever thresholds
// the previous activation had.
func (s *Server) handleEnablePack(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())
	packID := mux.Vars(r)["id"]

	if s.catalog.GetPackByID(packID) == nil {
		writeError(w, http.StatusNotFound, "PACK_NOT_FOUND", "unknown pack "+packID)
		return
	}

	var body struct {
		Thresholds map[string]core.ThresholdOverride `json:"thresholds,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "MALFORMED_JSON", "request body is not valid JSON")
			return
		}
	}
	if err := validateThresholds(s.catalog, packID, body.Thresholds); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_THRESHOLDS", err.Error())
		return
	}

	if body.Thresholds == nil {
		prev, err := s.store.GetActivation(r.Context(), tenantID, packID)
		if err != nil {
			s.logger.Printf("❌ Failed to load activation %s/%s: %v", tenantID, packID, err)
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to enable pack")
			return
		}
		if prev != nil {
			body.Thresholds = prev.Thresholds
		}
	}

	now := time.Now().UTC()
	err := s.store.UpsertActivation(r.Context(), &core.PackActivation{
		TenantID:    tenantID,
		PackID:      packID,
		Enabled:     true,
		Thresholds:  body.Thresholds,
		ActivatedAt: now,
		UpdatedAt:   now,
	})
	if err != nil {
		s.logger.Printf("❌ Failed to enable pack %s for %s: %v", packID, tenantID, err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to enable pack")
		return
	}

	s.evaluator.InvalidateTenant(tenantID)
	s.logger.Printf("✅ Pack %s enabled for tenant %s", packID, tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"packId": packID, "enabled": true})
}

// handleDisablePack removes the activation; subsequent scans skip the
// pack entirely.
func (s *Server) handleDisablePack(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())
	packID := mux.Vars(r)["id"]

	if s.catalog.GetPackByID(packID) == nil {
		writeError(w, http.StatusNotFound, "PACK_NOT_FOUND", "unknown pack "+packID)
		return
	}

	if err := s.store.DeleteActivation(r.Context(), tenantID, packID); err != nil {
		s.logger.Printf("❌ Failed to disable pack %s for %s: %v", packID, tenantID, err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to disable pack")
		return
	}

	s.evaluator.InvalidateTenant(tenantID)
	s.logger.Printf("Pack %s disabled for tenant %s", packID, tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"packId": packID, "enabled": false})
}

// handleUpdateThresholds replaces the per-rule overrides of an enabled
// pack.
func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())
	packID := mux.Vars(r)["id"]

	if s.catalog.GetPackByID(packID) == nil {
		writeError(w, http.StatusNotFound, "PACK_NOT_FOUND", "unknown pack "+packID)
		return
	}

	var body struct {
		Thresholds map[string]core.ThresholdOverride `json:"thresholds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_JSON", "request body is not valid JSON")
		return
	}
	if err := validateThresholds(s.catalog, packID, body.Thresholds); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_THRESHOLDS", err.Error())
		return
	}

	err := s.store.UpdateThresholds(r.Context(), tenantID, packID, body.Thresholds)
	if errors.Is(err, store.ErrActivationNotFound) {
		writeError(w, http.StatusNotFound, "PACK_NOT_ENABLED", "pack "+packID+" is not enabled for this tenant")
		return
	}
	if err != nil {
		s.logger.Printf("❌ Failed to update thresholds %s/%s: %v", tenantID, packID, err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to update thresholds")
		return
	}

	s.evaluator.InvalidateTenant(tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"packId": packID, "thresholds": body.Thresholds})
}

// validateThresholds rejects overrides naming unknown rules or invalid
// severities.
func validateThresholds(catalog *detection.Catalog, packID string, thresholds map[string]core.ThresholdOverride) error {
	if len(thresholds) == 0 {
		return nil
	}
	pack := catalog.GetPackByID(packID)
	known := make(map[string]bool, len(pack.Rules))
	for i := range pack.Rules {
		known[pack.Rules[i].ID] = true
	}
	for ruleID, ov := range thresholds {
		if !known[ruleID] {
			return errors.New("unknown rule " + ruleID + " in pack " + packID)
		}
		if ov.Level != nil && !ov.Level.Valid() {
			return errors.New("invalid severity for rule " + ruleID)
		}
	}
	return nil
}
