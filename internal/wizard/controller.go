package wizard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"server/internal/assist"
	"server/internal/branding"
	"server/internal/domain"
	"server/internal/draft"
	"server/internal/infra"
	"server/internal/media"
	"server/internal/providers/crm"
)

// bannerUnreachable is shown on the review step when the backend could not
// be reached at all. Field-level rejections produce their own messages.
const bannerUnreachable = "We could not reach the listing service. Please try again."

// StepView describes one step for the host UI.
type StepView struct {
	ID             string
	Title          string
	Kind           domain.StepKind
	Index          int
	RequiredFields []string
	AssistFields   []string
	Completed      bool
}

// View is the read-only controller state the host UI renders after every
// operation: current step, errors, progress and the derived branding.
type View struct {
	DraftID        string
	FlowID         string
	Status         domain.SessionStatus
	CurrentIndex   int
	CurrentStep    StepView
	Steps          []StepView
	Form           domain.FormData
	Errors         map[string]domain.FieldErrors
	CompletedSteps []int
	Progress       float64
	ReadyToSubmit  bool
	Branding       *branding.Profile
	Attachments    []domain.MediaAttachment
	SubmitBanner   string
	ListingID      string
}

// ControllerOptions wires one session's collaborators.
type ControllerOptions struct {
	Session     *domain.WizardSession
	Flow        Flow
	Repo        domain.DraftRepository
	Saver       *draft.Saver
	Assist      *assist.Adapter
	Media       *media.Manager
	Submitter   crm.Submitter
	Logger      infra.Logger
	Attachments []domain.MediaAttachment
}

// Controller owns one wizard session. Every public operation takes the
// session mutex, so operations are atomic with respect to each other; only
// assist generation and submission do network work, and both release the
// mutex for the slow part.
type Controller struct {
	mu          sync.Mutex
	session     *domain.WizardSession
	flow        Flow
	brand       *branding.Profile
	attachments []domain.MediaAttachment

	repo      domain.DraftRepository
	saver     *draft.Saver
	assist    *assist.Adapter
	media     *media.Manager
	submitter crm.Submitter
	logger    infra.Logger

	lastActive time.Time
}

// NewController assembles a controller around an already-built session. The
// branding palette is derived from the restored form if a primary color is
// present.
func NewController(opts ControllerOptions) *Controller {
	c := &Controller{
		session:     opts.Session,
		flow:        opts.Flow,
		attachments: append([]domain.MediaAttachment(nil), opts.Attachments...),
		repo:        opts.Repo,
		saver:       opts.Saver,
		assist:      opts.Assist,
		media:       opts.Media,
		submitter:   opts.Submitter,
		logger:      opts.Logger,
		lastActive:  time.Now(),
	}
	if hex := opts.Session.Form.StringValue(fieldPrimaryColor); hex != "" {
		if profile, err := branding.Derive(hex); err == nil {
			c.brand = &profile
		}
	}
	return c
}

// DraftID returns the session's persistence key.
func (c *Controller) DraftID() string {
	return c.session.DraftID
}

// LastActive reports when the controller last served an operation.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// View returns the current render state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// UpdateField writes one field into the shared form. Navigation state,
// errors and completed steps are untouched; a debounced draft write is
// scheduled. Typing into a field that currently allows assist invalidates
// any in-flight generation for it, so a late result can never overwrite
// fresher input.
func (c *Controller) UpdateField(key string, value any) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Finished() {
		return c.viewLocked(), domain.ErrSessionFinished
	}
	c.touchLocked()

	c.session.Form[key] = value
	c.session.UpdatedAt = time.Now().UTC()

	if key == fieldPrimaryColor {
		c.deriveBrandingLocked()
	}
	if c.assist != nil && c.session.CurrentStep().AllowsAssist(key) {
		c.assist.Invalidate(key)
	}
	c.scheduleSaveLocked()
	return c.viewLocked(), nil
}

// GoNext validates the current step. Validation errors block the transition
// and are recorded under the step id. A clean step is marked completed and
// the session advances, except on the last step where the view reports
// ready-to-submit instead.
func (c *Controller) GoNext() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Finished() {
		return c.viewLocked(), domain.ErrSessionFinished
	}
	c.touchLocked()

	step := c.session.CurrentStep()
	if errs := step.Check(c.session.Form); len(errs) > 0 {
		c.session.Errors[step.ID] = errs
		return c.viewLocked(), fmt.Errorf("%w: %s", domain.ErrStepBlocked, step.ID)
	}

	delete(c.session.Errors, step.ID)
	c.session.MarkCompleted(c.session.CurrentIndex)
	if !c.session.IsLastStep() {
		c.invalidateAssistLocked(step)
		c.session.CurrentIndex++
	}
	c.session.UpdatedAt = time.Now().UTC()
	c.scheduleSaveLocked()
	return c.viewLocked(), nil
}

// GoBack moves one step back when possible. It never validates and never
// touches form data or recorded errors.
func (c *Controller) GoBack() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Finished() {
		return c.viewLocked(), domain.ErrSessionFinished
	}
	c.touchLocked()

	if c.session.CurrentIndex == 0 {
		return c.viewLocked(), nil
	}
	c.invalidateAssistLocked(c.session.CurrentStep())
	c.session.CurrentIndex--
	return c.viewLocked(), nil
}

// GoToStep jumps directly to a step. The target must be a previously
// completed step or the one immediately after the furthest completed step;
// anything else is rejected without changing state.
func (c *Controller) GoToStep(index int) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Finished() {
		return c.viewLocked(), domain.ErrSessionFinished
	}
	c.touchLocked()

	if index < 0 || index >= len(c.session.Steps) {
		return c.viewLocked(), fmt.Errorf("%w: index %d", domain.ErrOutOfRange, index)
	}
	if index > c.session.MaxCompletedIndex()+1 {
		return c.viewLocked(), fmt.Errorf("%w: step %d not reached yet", domain.ErrOutOfRange, index)
	}
	if index == c.session.CurrentIndex {
		return c.viewLocked(), nil
	}
	c.invalidateAssistLocked(c.session.CurrentStep())
	c.session.CurrentIndex = index
	return c.viewLocked(), nil
}

// Submit posts the aggregate to the listing backend exactly once per
// submit window. A second call while one is in flight reports
// ErrSubmitInFlight and does nothing. Backend field rejections are mapped
// into the owning steps' error maps; anything unmappable becomes the review
// banner. On acceptance the draft is deleted and the session is terminal.
func (c *Controller) Submit(ctx context.Context) (View, error) {
	req, view, err := c.beginSubmit()
	if err != nil {
		return view, err
	}

	result, err := c.submitter.CreateListing(ctx, req)
	return c.finishSubmit(ctx, result, err), nil
}

// beginSubmit runs the guarded, synchronous part of Submit: it validates the
// last step, flips the session into the submitting state and snapshots the
// aggregate for the network call.
func (c *Controller) beginSubmit() (crm.SubmitRequest, View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Finished() {
		return crm.SubmitRequest{}, c.viewLocked(), domain.ErrSessionFinished
	}
	if c.session.Status == domain.SessionStatusSubmitting {
		return crm.SubmitRequest{}, c.viewLocked(), domain.ErrSubmitInFlight
	}
	c.touchLocked()

	if !c.session.IsLastStep() {
		return crm.SubmitRequest{}, c.viewLocked(), fmt.Errorf("%w: submit is only available on the last step", domain.ErrStepBlocked)
	}
	step := c.session.CurrentStep()
	if errs := step.Check(c.session.Form); len(errs) > 0 {
		c.session.Errors[step.ID] = errs
		return crm.SubmitRequest{}, c.viewLocked(), fmt.Errorf("%w: %s", domain.ErrStepBlocked, step.ID)
	}
	delete(c.session.Errors, step.ID)
	c.session.MarkCompleted(c.session.CurrentIndex)

	c.session.Status = domain.SessionStatusSubmitting
	c.session.SubmitBanner = ""
	req := crm.SubmitRequest{
		DraftID:     c.session.DraftID,
		FlowID:      c.session.FlowID,
		Form:        c.session.Form.Clone(),
		Attachments: append([]domain.MediaAttachment(nil), c.attachments...),
	}
	return req, View{}, nil
}

// finishSubmit records the outcome of the network call. All three outcomes
// are defined states on the session, never surfaced as panics or lost
// rejections.
func (c *Controller) finishSubmit(ctx context.Context, result *crm.SubmitResult, err error) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Error().Err(err).Str("draft_id", c.session.DraftID).Msg("wizard: submission failed")
		c.session.Status = domain.SessionStatusSubmitFailed
		c.session.SubmitBanner = bannerUnreachable
		c.scheduleSaveLocked()
		return c.viewLocked()
	}
	if !result.Accepted() {
		c.session.Status = domain.SessionStatusSubmitFailed
		c.applyFieldRejectionsLocked(result)
		c.scheduleSaveLocked()
		return c.viewLocked()
	}

	c.session.Status = domain.SessionStatusSubmitted
	c.session.ListingID = result.ListingID
	c.session.SubmitBanner = ""
	c.logger.Info().Str("draft_id", c.session.DraftID).Str("listing_id", result.ListingID).Msg("wizard: listing created")
	if c.saver != nil {
		c.saver.Discard()
	}
	if c.repo != nil {
		if err := c.repo.Delete(ctx, c.session.DraftID); err != nil {
			c.logger.Warn().Err(err).Str("draft_id", c.session.DraftID).Msg("wizard: draft cleanup failed")
		}
	}
	return c.viewLocked()
}

// GenerateAssist runs one bounded generation attempt for a field of the
// current step. Successful results are written into the form only while
// their request token is still authoritative; timeouts and service errors
// leave the form untouched and ask the caller to fall back to manual entry.
func (c *Controller) GenerateAssist(ctx context.Context, fieldKey, locale string) (assist.Outcome, error) {
	c.mu.Lock()
	if c.session.Finished() {
		c.mu.Unlock()
		return assist.Outcome{}, domain.ErrSessionFinished
	}
	c.touchLocked()
	step := c.session.CurrentStep()
	if c.assist == nil || !step.AllowsAssist(fieldKey) {
		c.mu.Unlock()
		return assist.Outcome{}, fmt.Errorf("%w: field %q has no assist on step %q", domain.ErrOutOfRange, fieldKey, step.ID)
	}
	req := assist.Request{
		FieldKey: fieldKey,
		FlowID:   c.session.FlowID,
		Locale:   locale,
		Form:     c.session.Form.Clone(),
	}
	c.mu.Unlock()

	outcome := c.assist.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if outcome.Status == assist.StatusResult {
		if c.assist.CurrentToken(fieldKey) != outcome.Token {
			outcome = assist.Outcome{FieldKey: fieldKey, Status: assist.StatusStale, Token: outcome.Token}
			return outcome, nil
		}
		c.session.Form[fieldKey] = outcome.Text
		c.session.UpdatedAt = time.Now().UTC()
		c.scheduleSaveLocked()
	}
	return outcome, nil
}

// AddAttachment uploads one file through the media queue and persists the
// refreshed attachment list.
func (c *Controller) AddAttachment(ctx context.Context, req media.AddRequest) (domain.MediaAttachment, error) {
	if err := c.ensureMediaOp(); err != nil {
		return domain.MediaAttachment{}, err
	}
	item, err := c.media.Add(ctx, req)
	if err != nil {
		return domain.MediaAttachment{}, err
	}
	c.refreshAttachments(ctx)
	return item, nil
}

// RemoveAttachment deletes one attachment; remaining order positions are
// compacted by the media queue.
func (c *Controller) RemoveAttachment(ctx context.Context, id string) error {
	if err := c.ensureMediaOp(); err != nil {
		return err
	}
	if err := c.media.Remove(ctx, id); err != nil {
		return err
	}
	c.refreshAttachments(ctx)
	return nil
}

// ReorderAttachment moves an attachment to the target position.
func (c *Controller) ReorderAttachment(ctx context.Context, id string, index int) ([]domain.MediaAttachment, error) {
	if err := c.ensureMediaOp(); err != nil {
		return nil, err
	}
	items, err := c.media.Reorder(ctx, id, index)
	if err != nil {
		return nil, err
	}
	c.refreshAttachments(ctx)
	return items, nil
}

// Flush writes any pending draft snapshot immediately.
func (c *Controller) Flush(ctx context.Context) error {
	if c.saver == nil {
		return nil
	}
	return c.saver.Flush(ctx)
}

// Close flushes the draft saver and stops the media worker. The controller
// must not be used afterwards.
func (c *Controller) Close(ctx context.Context) {
	if c.saver != nil {
		c.saver.Close(ctx)
	}
	if c.media != nil {
		c.media.Close()
	}
}

func (c *Controller) ensureMediaOp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Finished() {
		return domain.ErrSessionFinished
	}
	if c.media == nil {
		return fmt.Errorf("%w: flow has no media step", domain.ErrOutOfRange)
	}
	c.touchLocked()
	return nil
}

// refreshAttachments pulls the post-mutation list from the media queue and
// schedules a draft write carrying it.
func (c *Controller) refreshAttachments(ctx context.Context) {
	snapshot := c.media.Snapshot(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments = snapshot
	c.session.UpdatedAt = time.Now().UTC()
	c.scheduleSaveLocked()
}

func (c *Controller) invalidateAssistLocked(step domain.StepDescriptor) {
	if c.assist == nil || len(step.AssistFields) == 0 {
		return
	}
	c.assist.Invalidate(step.AssistFields...)
}

func (c *Controller) deriveBrandingLocked() {
	hex := c.session.Form.StringValue(fieldPrimaryColor)
	if hex == "" {
		c.brand = nil
		return
	}
	profile, err := branding.Derive(hex)
	if err != nil {
		// Keep the last valid palette while the user is mid-edit.
		c.logger.Debug().Str("draft_id", c.session.DraftID).Str("value", hex).Msg("wizard: primary color not parseable yet")
		return
	}
	c.brand = &profile
}

func (c *Controller) scheduleSaveLocked() {
	if c.saver == nil {
		return
	}
	c.saver.Schedule(c.recordLocked())
}

func (c *Controller) recordLocked() *domain.DraftRecord {
	return &domain.DraftRecord{
		DraftID:     c.session.DraftID,
		FlowID:      c.session.FlowID,
		Form:        c.session.Form.Clone(),
		Index:       c.session.CurrentIndex,
		Completed:   c.session.CompletedList(),
		Attachments: append([]domain.MediaAttachment(nil), c.attachments...),
		Status:      c.session.Status,
		UpdatedAt:   time.Now().UTC(),
	}
}

// applyFieldRejectionsLocked distributes backend field errors into the steps
// that own the fields. Errors for unknown fields are joined into the banner.
func (c *Controller) applyFieldRejectionsLocked(result *crm.SubmitResult) {
	var unmapped []string
	for key, msg := range result.FieldErrors {
		stepID, ok := c.flow.StepOwningField(key)
		if !ok {
			unmapped = append(unmapped, fmt.Sprintf("%s: %s", key, msg))
			continue
		}
		if c.session.Errors[stepID] == nil {
			c.session.Errors[stepID] = domain.FieldErrors{}
		}
		c.session.Errors[stepID][key] = msg
	}
	switch {
	case result.Message != "":
		c.session.SubmitBanner = result.Message
	case len(unmapped) > 0:
		c.session.SubmitBanner = strings.Join(unmapped, "; ")
	case len(result.FieldErrors) > 0:
		c.session.SubmitBanner = "Some fields were rejected. Review the highlighted steps."
	default:
		c.session.SubmitBanner = "The listing was rejected. Please review and retry."
	}
}

func (c *Controller) touchLocked() {
	c.lastActive = time.Now()
}

func (c *Controller) viewLocked() View {
	steps := make([]StepView, len(c.session.Steps))
	for i, step := range c.session.Steps {
		steps[i] = StepView{
			ID:             step.ID,
			Title:          step.Title,
			Kind:           step.Kind,
			Index:          i,
			RequiredFields: step.RequiredFields,
			AssistFields:   step.AssistFields,
			Completed:      c.session.IsCompleted(i),
		}
	}
	lastIndex := len(c.session.Steps) - 1
	errs := make(map[string]domain.FieldErrors, len(c.session.Errors))
	for stepID, fieldErrs := range c.session.Errors {
		cloned := make(domain.FieldErrors, len(fieldErrs))
		for k, v := range fieldErrs {
			cloned[k] = v
		}
		errs[stepID] = cloned
	}
	return View{
		DraftID:        c.session.DraftID,
		FlowID:         c.session.FlowID,
		Status:         c.session.Status,
		CurrentIndex:   c.session.CurrentIndex,
		CurrentStep:    steps[c.session.CurrentIndex],
		Steps:          steps,
		Form:           c.session.Form.Clone(),
		Errors:         errs,
		CompletedSteps: c.session.CompletedList(),
		Progress:       c.session.Progress(),
		ReadyToSubmit:  c.session.IsCompleted(lastIndex) && c.session.Status != domain.SessionStatusSubmitted,
		Branding:       c.brand,
		Attachments:    append([]domain.MediaAttachment(nil), c.attachments...),
		SubmitBanner:   c.session.SubmitBanner,
		ListingID:      c.session.ListingID,
	}
}
