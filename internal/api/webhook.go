package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/vidora/vidora/internal/billing"
)

// BillingWebhook handles POST /v1/webhooks/billing. The payments platform
// signs each delivery with HMAC-SHA256 over the raw body; an unverifiable
// signature is a 401 and the platform will retry. Events are idempotent, so a
// redelivery of an already handled event still gets a 200.
func (h *Handler) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read payload")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" || !h.billing.VerifySignature(payload, signature) {
		respondError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	if err := h.billing.HandleEvent(r.Context(), payload); err != nil {
		if errors.Is(err, billing.ErrUnknownEvent) {
			// Acknowledge event types we don't care about so the platform
			// stops redelivering them.
			log.Printf("[API] Ignoring unhandled billing event: %v", err)
			respondJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		log.Printf("[API] Billing event failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
