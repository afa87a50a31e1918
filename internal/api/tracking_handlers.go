package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/salmanemhb/astantcrm/internal/engagement"
)

// handleManualTracking applies a user-driven quick action (mark opened,
// unmark opened, mark replied) against a contact-campaign pairing. These use
// the same state primitives as the webhook path.
func (s *Server) handleManualTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactCampaignID string `json:"contact_campaign_id"`
		Action            string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := uuid.Parse(req.ContactCampaignID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact_campaign_id")
		return
	}

	stage, err := s.processor.ManualAction(r.Context(), id, req.Action)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "contact campaign not found")
			return
		}
		log.Printf("[Tracking] manual action %q on %s failed: %v", req.Action, id, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stage":   stage,
	})
}

// handlePipelineStage is the manual stage override. An explicit stage from a
// user always wins over whatever the automatic path has set.
func (s *Server) handlePipelineStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactCampaignID string `json:"contactCampaignId"`
		Stage             string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := uuid.Parse(req.ContactCampaignID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contactCampaignId")
		return
	}

	stage := engagement.PipelineStage(req.Stage)
	if !stage.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown pipeline stage")
		return
	}

	if err := s.pipeline.SetStage(r.Context(), id, stage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "contact campaign not found")
			return
		}
		log.Printf("[Pipeline] set stage %q on %s failed: %v", stage, id, err)
		writeError(w, http.StatusInternalServerError, "failed to update stage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stage":   stage,
	})
}
