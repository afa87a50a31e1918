package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/salmanemhb/astantcrm/internal/engagement"
	"github.com/salmanemhb/astantcrm/internal/resend"
)

// maxWebhookBody bounds webhook payloads to prevent OOM
const maxWebhookBody = 1 * 1024 * 1024

// webhookResponse is the body returned to the ESP. Anything with a 200 status
// stops redelivery, so the flags are informational.
type webhookResponse struct {
	Received  bool  `json:"received"`
	Matched   *bool `json:"matched,omitempty"`
	Processed *bool `json:"processed,omitempty"`
}

// handleResendWebhook ingests one delivery event from the ESP.
//
// Response contract: 401 on signature failure (no mutation), 500 on a body we
// cannot parse, and 200 for everything else. An unmatched email id MUST get a
// 200 — the ESP treats non-2xx as "redeliver", which would retry forever for
// an event that can never be matched. Downstream processing failures are
// logged but do not fail the request for the same reason.
func (s *Server) handleResendWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read body")
		return
	}

	timestamp := r.Header.Get(resend.HeaderTimestamp)
	signature := r.Header.Get(resend.HeaderSignature)
	if err := s.verifier.Verify(body, timestamp, signature); err != nil {
		log.Printf("[Webhook] signature verification failed: %v", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload resend.WebhookEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[Webhook] malformed payload: %v", err)
		writeError(w, http.StatusInternalServerError, "malformed payload")
		return
	}

	ev, ok := engagement.Normalize(&payload)
	if !ok {
		// Delivery delays and unknown future event types: acknowledge and
		// ignore to stay forward-compatible with provider additions.
		log.Printf("[Webhook] ignoring event type %q", payload.Type)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	result, err := s.processor.Process(ctx, ev)
	if err != nil {
		// The event was received; processing state is logged, and the ESP's
		// coarse retry semantics make a 5xx here counterproductive.
		log.Printf("[Webhook] processing failed for %s event (email_id=%s): %v", ev.Type, ev.ProviderEmailID, err)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Processed: boolPtr(false)})
		return
	}

	if !result.Matched {
		log.Printf("[Webhook] no email matched provider id %q, ignoring %s event", ev.ProviderEmailID, ev.Type)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Matched: boolPtr(false)})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Processed: boolPtr(result.Processed)})
}

func boolPtr(b bool) *bool {
	return &b
}
