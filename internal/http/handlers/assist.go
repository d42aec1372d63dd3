package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"server/internal/assist"
	"server/internal/domain"
)

type assistRequest struct {
	FieldKey string `json:"field_key"`
}

type assistResponse struct {
	FieldKey       string  `json:"field_key"`
	Status         string  `json:"status"`
	Text           string  `json:"text,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Provider       string  `json:"provider,omitempty"`
	ManualFallback bool    `json:"manual_fallback"`
}

// GenerateAssist runs one AI draft for a single field on the active step.
// The call blocks until the provider answers or the fixed window lapses; a
// timeout or provider failure switches the field to manual entry instead of
// retrying.
func (a *App) GenerateAssist(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	var req assistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.FieldKey == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "field_key required")
		return
	}

	started := time.Now()
	outcome, err := ctrl.GenerateAssist(r.Context(), req.FieldKey, a.currentLocale(r))
	if err != nil {
		if errors.Is(err, domain.ErrOutOfRange) {
			a.error(w, http.StatusConflict, "out_of_range", err.Error())
			return
		}
		if errors.Is(err, domain.ErrSessionFinished) {
			a.error(w, http.StatusConflict, "already_submitted", err.Error())
			return
		}
		a.Logger.Error().Err(err).Str("field", req.FieldKey).Msg("assist generate failed")
		a.error(w, http.StatusInternalServerError, "internal", "assist generation failed")
		return
	}
	a.recordUsage(r, "assist_generate", outcome.Provider, outcome.Status == assist.StatusResult, started)

	a.json(w, http.StatusOK, assistResponse{
		FieldKey:       outcome.FieldKey,
		Status:         string(outcome.Status),
		Text:           outcome.Text,
		Confidence:     outcome.Confidence,
		Provider:       outcome.Provider,
		ManualFallback: outcome.ManualFallback,
	})
}
