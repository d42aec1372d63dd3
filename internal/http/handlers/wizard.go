package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/branding"
	"server/internal/domain"
	"server/internal/wizard"
)

type createDraftRequest struct {
	FlowID string `json:"flow_id"`
}

type goToStepRequest struct {
	Index int `json:"index"`
}

type updateFieldRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type stepDTO struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Kind           string   `json:"kind"`
	Index          int      `json:"index"`
	RequiredFields []string `json:"required_fields"`
	AssistFields   []string `json:"assist_fields,omitempty"`
	Completed      bool     `json:"completed"`
}

type attachmentDTO struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	MIME  string `json:"mime"`
	Bytes int64  `json:"bytes"`
	Kind  string `json:"kind"`
	Order int    `json:"order"`
}

type draftViewDTO struct {
	DraftID        string                       `json:"draft_id"`
	FlowID         string                       `json:"flow_id"`
	Status         string                       `json:"status"`
	CurrentIndex   int                          `json:"current_index"`
	CurrentStep    stepDTO                      `json:"current_step"`
	Steps          []stepDTO                    `json:"steps"`
	Form           map[string]any               `json:"form"`
	Errors         map[string]map[string]string `json:"errors"`
	CompletedSteps []int                        `json:"completed_steps"`
	Progress       float64                      `json:"progress"`
	ReadyToSubmit  bool                         `json:"ready_to_submit"`
	Branding       *branding.Profile            `json:"branding,omitempty"`
	Attachments    []attachmentDTO              `json:"attachments"`
	SubmitBanner   string                       `json:"submit_banner,omitempty"`
	ListingID      string                       `json:"listing_id,omitempty"`
}

type blockedStepResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Draft   draftViewDTO `json:"draft"`
}

type flowDTO struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Steps []stepDTO `json:"steps"`
}

func stepViewDTO(sv wizard.StepView) stepDTO {
	return stepDTO{
		ID:             sv.ID,
		Title:          sv.Title,
		Kind:           string(sv.Kind),
		Index:          sv.Index,
		RequiredFields: sv.RequiredFields,
		AssistFields:   sv.AssistFields,
		Completed:      sv.Completed,
	}
}

func attachmentsDTO(items []domain.MediaAttachment) []attachmentDTO {
	out := make([]attachmentDTO, 0, len(items))
	for _, att := range items {
		out = append(out, attachmentDTO{
			ID:    att.ID,
			URL:   att.URL,
			MIME:  att.MIME,
			Bytes: att.Bytes,
			Kind:  string(att.Kind),
			Order: att.Order,
		})
	}
	return out
}

func viewDTO(v wizard.View) draftViewDTO {
	steps := make([]stepDTO, 0, len(v.Steps))
	for _, sv := range v.Steps {
		steps = append(steps, stepViewDTO(sv))
	}
	errs := make(map[string]map[string]string, len(v.Errors))
	for stepID, fields := range v.Errors {
		errs[stepID] = map[string]string(fields)
	}
	return draftViewDTO{
		DraftID:        v.DraftID,
		FlowID:         v.FlowID,
		Status:         string(v.Status),
		CurrentIndex:   v.CurrentIndex,
		CurrentStep:    stepViewDTO(v.CurrentStep),
		Steps:          steps,
		Form:           v.Form,
		Errors:         errs,
		CompletedSteps: v.CompletedSteps,
		Progress:       v.Progress,
		ReadyToSubmit:  v.ReadyToSubmit,
		Branding:       v.Branding,
		Attachments:    attachmentsDTO(v.Attachments),
		SubmitBanner:   v.SubmitBanner,
		ListingID:      v.ListingID,
	}
}

// ListFlows exposes the registered flow definitions so clients can render
// step rails without hardcoding them.
func (a *App) ListFlows(w http.ResponseWriter, r *http.Request) {
	ids := a.Registry.IDs()
	flows := make([]flowDTO, 0, len(ids))
	for _, id := range ids {
		flow, err := a.Registry.Lookup(id)
		if err != nil {
			continue
		}
		steps := make([]stepDTO, 0, len(flow.Steps))
		for i, step := range flow.Steps {
			steps = append(steps, stepDTO{
				ID:             step.ID,
				Title:          step.Title,
				Kind:           string(step.Kind),
				Index:          i,
				RequiredFields: step.RequiredFields,
				AssistFields:   step.AssistFields,
			})
		}
		flows = append(flows, flowDTO{ID: flow.ID, Title: flow.Title, Steps: steps})
	}
	a.json(w, http.StatusOK, map[string][]flowDTO{"flows": flows})
}

// CreateDraft opens a fresh wizard session for the requested flow.
func (a *App) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.FlowID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "flow_id required")
		return
	}
	ctrl, err := a.Sessions.Create(r.Context(), req.FlowID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown flow")
			return
		}
		a.Logger.Error().Err(err).Str("flow", req.FlowID).Msg("create draft failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create draft")
		return
	}
	a.json(w, http.StatusCreated, viewDTO(ctrl.View()))
}

// GetDraft returns the current view, restoring the session from its
// persisted draft when it is not resident.
func (a *App) GetDraft(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, viewDTO(ctrl.View()))
}

// UpdateDraftField writes one form value and schedules the debounced draft
// save. Validation never runs here.
func (a *App) UpdateDraftField(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "key required")
		return
	}
	view, err := ctrl.UpdateField(req.Key, req.Value)
	if err != nil {
		a.wizardError(w, err, view)
		return
	}
	a.json(w, http.StatusOK, viewDTO(view))
}

// DraftNext validates the current step and advances on success.
func (a *App) DraftNext(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	view, err := ctrl.GoNext()
	if err != nil {
		a.wizardError(w, err, view)
		return
	}
	a.json(w, http.StatusOK, viewDTO(view))
}

// DraftBack moves one step back without validating.
func (a *App) DraftBack(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	view, err := ctrl.GoBack()
	if err != nil {
		a.wizardError(w, err, view)
		return
	}
	a.json(w, http.StatusOK, viewDTO(view))
}

// DraftGoToStep jumps to a previously reachable step.
func (a *App) DraftGoToStep(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	var req goToStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	view, err := ctrl.GoToStep(req.Index)
	if err != nil {
		a.wizardError(w, err, view)
		return
	}
	a.json(w, http.StatusOK, viewDTO(view))
}

// SubmitDraft posts the aggregated form to the listing backend. Transport
// failures and backend rejections come back as a regular view carrying the
// banner or field errors; only guard violations produce an error status.
func (a *App) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	started := time.Now()
	view, err := ctrl.Submit(r.Context())
	if err != nil {
		a.wizardError(w, err, view)
		return
	}
	a.recordUsage(r, "wizard_submit", "crm", view.Status == domain.SessionStatusSubmitted, started)
	a.json(w, http.StatusOK, viewDTO(view))
}

// DiscardDraft abandons the draft and cleans up its uploads.
func (a *App) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	draftID := chi.URLParam(r, "draftID")
	if draftID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "draft id required")
		return
	}
	if err := a.Sessions.Discard(r.Context(), draftID); err != nil {
		a.Logger.Error().Err(err).Str("draft_id", draftID).Msg("discard draft failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to discard draft")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) draftController(w http.ResponseWriter, r *http.Request) (*wizard.Controller, bool) {
	draftID := chi.URLParam(r, "draftID")
	if draftID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "draft id required")
		return nil, false
	}
	ctrl, err := a.Sessions.Get(r.Context(), draftID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "draft not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("draft_id", draftID).Msg("load draft failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load draft")
		return nil, false
	}
	return ctrl, true
}

// wizardError maps controller guard errors onto HTTP statuses. Blocked steps
// keep the full view in the body so clients can paint the field errors.
func (a *App) wizardError(w http.ResponseWriter, err error, view wizard.View) {
	switch {
	case errors.Is(err, domain.ErrStepBlocked):
		a.json(w, http.StatusUnprocessableEntity, blockedStepResponse{
			Error:   "step_blocked",
			Message: err.Error(),
			Draft:   viewDTO(view),
		})
	case errors.Is(err, domain.ErrOutOfRange):
		a.error(w, http.StatusConflict, "out_of_range", err.Error())
	case errors.Is(err, domain.ErrSubmitInFlight):
		a.error(w, http.StatusConflict, "submit_in_flight", err.Error())
	case errors.Is(err, domain.ErrSessionFinished):
		a.error(w, http.StatusConflict, "already_submitted", err.Error())
	case errors.Is(err, domain.ErrCapacityExceeded):
		a.error(w, http.StatusUnprocessableEntity, "capacity_exceeded", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("wizard operation failed")
		a.error(w, http.StatusInternalServerError, "internal", "wizard operation failed")
	}
}
