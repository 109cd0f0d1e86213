package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/vidora/vidora/internal/models"
)

// GetBalance handles GET /v1/credits.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	balance, err := h.db.GetBalance(r.Context(), user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get balance")
		return
	}

	respondJSON(w, http.StatusOK, models.BalanceResponse{Balance: balance})
}

// GetCreditHistory handles GET /v1/credits/history.
func (h *Handler) GetCreditHistory(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	limit, offset := parsePagination(r, 20, 100)

	total, err := h.db.CountTransactions(r.Context(), user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count transactions")
		return
	}

	txns, err := h.db.ListTransactions(r.Context(), user.ID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if txns == nil {
		txns = []models.CreditTransaction{}
	}

	respondJSON(w, http.StatusOK, models.TransactionHistoryResponse{
		Transactions: txns,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	})
}

// Translate handles POST /v1/translate: batch-translate a script into many
// target languages with a bounded concurrency window. The first target
// language is free; the rest are charged up front and any charge not backed
// by a successful translation is refunded after the batch.
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req models.TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := h.currentUser(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	// The first target language is free; only the rest are billable.
	paidLangs := req.Languages[1:]
	charged := len(paidLangs) * models.CreditCostTranslation
	batchID := uuid.New()

	if charged > 0 {
		ok, _, err := h.db.ConsumeCredits(r.Context(), user.ID, charged, models.ResourceTranslation, batchID, "script translation batch")
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to charge credits")
			return
		}
		if !ok {
			respondErrorCode(w, http.StatusForbidden, "Insufficient credits", CodeInsufficientCredits)
			return
		}
	}

	translations, failures := h.openai.TranslateBatch(r.Context(), req.Script, req.Languages)

	// Credits are owed only for paid languages that actually translated.
	used := 0
	for _, lang := range paidLangs {
		if _, ok := translations[lang]; ok {
			used += models.CreditCostTranslation
		}
	}

	if excess := charged - used; excess > 0 {
		if err := h.db.RefundCredits(r.Context(), user.ID, excess, models.ResourceTranslation, batchID, "refund: failed translations"); err != nil {
			log.Printf("[API] WARNING: translation refund of %d credits failed for batch %s: %v", excess, batchID, err)
		}
	}

	respondJSON(w, http.StatusOK, models.TranslateResponse{
		Translations: translations,
		Errors:       failures,
		CreditsUsed:  used,
	})
}

// GenerateScript handles POST /v1/scripts. Script drafting is free — the
// credits are spent on the generation job the script feeds into.
func (h *Handler) GenerateScript(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DurationSec == 0 {
		req.DurationSec = 60
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	script, err := h.openai.GenerateScript(r.Context(), req.Topic, req.Tone, req.DurationSec)
	if err != nil {
		h.respondProviderError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.GenerateScriptResponse{Script: script})
}

// ListAvatars handles GET /v1/catalog/avatars.
func (h *Handler) ListAvatars(w http.ResponseWriter, r *http.Request) {
	avatars, err := h.catalog.Avatars(r.Context())
	if err != nil {
		h.respondProviderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"avatars": avatars})
}

// ListVoices handles GET /v1/catalog/voices.
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.catalog.Voices(r.Context())
	if err != nil {
		h.respondProviderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"voices": voices})
}
