package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// handleDailyStats returns the per-day counters for a campaign over a date
// range. Read-only; consumed by the analytics dashboard.
func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(r.URL.Query().Get("campaign_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign_id")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
			return
		}
	}

	stats, err := s.stats.Range(r.Context(), campaignID, from, to)
	if err != nil {
		log.Printf("[Analytics] daily stats for campaign %s: %v", campaignID, err)
		writeError(w, http.StatusInternalServerError, "failed to load daily stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"from":        from.Format("2006-01-02"),
		"to":          to.Format("2006-01-02"),
		"days":        stats,
	})
}

// handleContactEngagement returns the rolling counters, score, and tier for
// one contact
func (s *Server) handleContactEngagement(w http.ResponseWriter, r *http.Request) {
	contactID, err := uuid.Parse(chi.URLParam(r, "contactID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	ce, err := s.scorer.Get(r.Context(), contactID)
	if err != nil {
		log.Printf("[Analytics] engagement for contact %s: %v", contactID, err)
		writeError(w, http.StatusInternalServerError, "failed to load engagement")
		return
	}
	if ce == nil {
		writeError(w, http.StatusNotFound, "no engagement recorded for contact")
		return
	}

	writeJSON(w, http.StatusOK, ce)
}

// handleEmailEvents returns the lifecycle record and event log for one email
func (s *Server) handleEmailEvents(w http.ResponseWriter, r *http.Request) {
	emailID, err := uuid.Parse(chi.URLParam(r, "emailID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id")
		return
	}

	email, err := s.store.GetEmail(r.Context(), emailID)
	if err != nil {
		log.Printf("[Analytics] email %s: %v", emailID, err)
		writeError(w, http.StatusInternalServerError, "failed to load email")
		return
	}
	if email == nil {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}

	events, err := s.store.ListEvents(r.Context(), emailID)
	if err != nil {
		log.Printf("[Analytics] events for email %s: %v", emailID, err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email":  email,
		"events": events,
	})
}
