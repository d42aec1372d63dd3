package wizard

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/assist"
	"server/internal/domain"
	"server/internal/draft"
	"server/internal/media"
	"server/internal/providers/copy"
	"server/internal/providers/crm"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	result  *crm.SubmitResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) CreateListing(ctx context.Context, req crm.SubmitRequest) (*crm.SubmitResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &crm.SubmitResult{ListingID: "listing-123"}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSubmitter) setResult(result *crm.SubmitResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
	f.err = err
}

type scriptedGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	started chan struct{}
	release chan struct{}
	waitCtx bool
}

func (g *scriptedGenerator) GenerateField(ctx context.Context, req copy.FieldRequest) (*copy.FieldResult, error) {
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &copy.FieldResult{Text: g.text, Confidence: 0.9, Provider: "scripted"}, nil
}

type testEnv struct {
	mgr       *Manager
	repo      *draft.MemoryRepository
	submitter *fakeSubmitter
	gen       *scriptedGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      draft.NewMemoryRepository(),
		submitter: &fakeSubmitter{},
		gen:       &scriptedGenerator{text: "Generated copy for the listing."},
	}
	env.mgr = NewManager(ManagerOptions{
		Registry:      DefaultRegistry(),
		Repo:          env.repo,
		Submitter:     env.submitter,
		Generator:     env.gen,
		Logger:        zerolog.Nop(),
		AssistTimeout: 40 * time.Millisecond,
		DraftDebounce: 10 * time.Millisecond,
		MediaCapacity: 5,
		MediaBaseURL:  "http://localhost:8080/static",
	})
	t.Cleanup(func() { env.mgr.Shutdown(context.Background()) })
	return env
}

func (e *testEnv) controller(t *testing.T, flowID string) *Controller {
	t.Helper()
	ctrl, err := e.mgr.Create(context.Background(), flowID)
	if err != nil {
		t.Fatalf("Create(%s) returned error: %v", flowID, err)
	}
	return ctrl
}

func mustUpdate(t *testing.T, ctrl *Controller, key string, value any) View {
	t.Helper()
	view, err := ctrl.UpdateField(key, value)
	if err != nil {
		t.Fatalf("UpdateField(%s) returned error: %v", key, err)
	}
	return view
}

func mustNext(t *testing.T, ctrl *Controller) View {
	t.Helper()
	view, err := ctrl.GoNext()
	if err != nil {
		t.Fatalf("GoNext on step %d returned error: %v (errors: %v)", view.CurrentIndex, err, view.Errors)
	}
	return view
}

// advanceToReview walks a listing session through every step up to the
// review step.
func advanceToReview(t *testing.T, ctrl *Controller) View {
	t.Helper()
	mustUpdate(t, ctrl, "title", "Rumah Modern Dekat Stasiun")
	mustUpdate(t, ctrl, "property_type", "house")
	mustUpdate(t, ctrl, "price", 450000000)
	mustNext(t, ctrl)
	mustUpdate(t, ctrl, "address", "Jl. Kebon Jeruk No. 12")
	mustUpdate(t, ctrl, "city", "Jakarta")
	mustNext(t, ctrl)
	mustUpdate(t, ctrl, "headline", "Rumah modern dua lantai")
	mustUpdate(t, ctrl, "description", "Rumah modern dua lantai dekat stasiun MRT, siap huni.")
	mustNext(t, ctrl)
	view := mustNext(t, ctrl) // photos step has no required fields
	if view.CurrentStep.ID != "review" {
		t.Fatalf("expected review step, on %q", view.CurrentStep.ID)
	}
	return view
}

func TestGoNextBlocksOnMissingRequiredField(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowOnboarding)

	mustUpdate(t, ctrl, "first_name", "John")
	mustUpdate(t, ctrl, "last_name", "Doe")

	view, err := ctrl.GoNext()
	if !errors.Is(err, domain.ErrStepBlocked) {
		t.Fatalf("GoNext error = %v, want ErrStepBlocked", err)
	}
	if view.CurrentIndex != 0 {
		t.Fatalf("CurrentIndex = %d, want 0", view.CurrentIndex)
	}
	if got := view.Errors["personal_info"]["phone"]; got != "phone is required" {
		t.Fatalf("phone error = %q, want %q", got, "phone is required")
	}
	if len(view.CompletedSteps) != 0 {
		t.Fatalf("CompletedSteps = %v, want none", view.CompletedSteps)
	}
}

func TestGoNextAdvancesAndClearsStepErrors(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowOnboarding)

	mustUpdate(t, ctrl, "first_name", "John")
	mustUpdate(t, ctrl, "last_name", "Doe")
	if _, err := ctrl.GoNext(); !errors.Is(err, domain.ErrStepBlocked) {
		t.Fatalf("GoNext error = %v, want ErrStepBlocked", err)
	}

	mustUpdate(t, ctrl, "phone", "+62 812-3456-7890")
	view := mustNext(t, ctrl)
	if view.CurrentIndex != 1 {
		t.Fatalf("CurrentIndex = %d, want 1", view.CurrentIndex)
	}
	if len(view.Errors["personal_info"]) != 0 {
		t.Fatalf("personal_info errors = %v, want cleared", view.Errors["personal_info"])
	}
	if !view.Steps[0].Completed {
		t.Fatal("step 0 should be marked completed")
	}
	if view.Progress != 0.25 {
		t.Fatalf("Progress = %v, want 0.25", view.Progress)
	}
}

func TestGoNextOnLastStepSignalsReadyWithoutAdvancing(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowListing)

	view := advanceToReview(t, ctrl)
	if view.ReadyToSubmit {
		t.Fatal("ReadyToSubmit should be false before the review step validates")
	}

	view = mustNext(t, ctrl)
	if view.CurrentIndex != len(view.Steps)-1 {
		t.Fatalf("CurrentIndex = %d, want last step %d", view.CurrentIndex, len(view.Steps)-1)
	}
	if !view.ReadyToSubmit {
		t.Fatal("ReadyToSubmit should be true after validating the last step")
	}
	if view.Progress != 1 {
		t.Fatalf("Progress = %v, want 1", view.Progress)
	}
}

func TestGoBackNeverMutatesFormOrErrors(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowOnboarding)

	mustUpdate(t, ctrl, "first_name", "Siti")
	mustUpdate(t, ctrl, "last_name", "Rahma")
	mustUpdate(t, ctrl, "phone", "081234567890")
	mustNext(t, ctrl)

	before := ctrl.View()
	view, err := ctrl.GoBack()
	if err != nil {
		t.Fatalf("GoBack returned error: %v", err)
	}
	if view.CurrentIndex != 0 {
		t.Fatalf("CurrentIndex = %d, want 0", view.CurrentIndex)
	}
	if !reflect.DeepEqual(view.Form, before.Form) {
		t.Fatalf("GoBack changed form data: %v != %v", view.Form, before.Form)
	}
	if !reflect.DeepEqual(view.Errors, before.Errors) {
		t.Fatalf("GoBack changed errors: %v != %v", view.Errors, before.Errors)
	}

	// At the first step GoBack stays put.
	view, err = ctrl.GoBack()
	if err != nil {
		t.Fatalf("GoBack at step 0 returned error: %v", err)
	}
	if view.CurrentIndex != 0 {
		t.Fatalf("CurrentIndex = %d, want 0", view.CurrentIndex)
	}
}

func TestGoToStepOnlyReachesCompletedOrNextStep(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowListing)

	mustUpdate(t, ctrl, "title", "Tanah Kavling Strategis")
	mustUpdate(t, ctrl, "property_type", "land")
	mustUpdate(t, ctrl, "price", "750000000")
	mustNext(t, ctrl)
	mustUpdate(t, ctrl, "address", "Jl. Raya Bogor KM 30")
	mustUpdate(t, ctrl, "city", "Depok")
	view := mustNext(t, ctrl)
	if got := view.CompletedSteps; !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("CompletedSteps = %v, want [0 1]", got)
	}

	view, err := ctrl.GoToStep(4)
	if !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("GoToStep(4) error = %v, want ErrOutOfRange", err)
	}
	if view.CurrentIndex != 2 {
		t.Fatalf("CurrentIndex after rejected jump = %d, want 2", view.CurrentIndex)
	}

	if view, err = ctrl.GoToStep(2); err != nil {
		t.Fatalf("GoToStep(2) returned error: %v", err)
	}
	if view.CurrentIndex != 2 {
		t.Fatalf("CurrentIndex = %d, want 2", view.CurrentIndex)
	}

	if view, err = ctrl.GoToStep(0); err != nil {
		t.Fatalf("GoToStep(0) returned error: %v", err)
	}
	if view.CurrentIndex != 0 {
		t.Fatalf("CurrentIndex = %d, want 0", view.CurrentIndex)
	}

	if _, err = ctrl.GoToStep(9); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("GoToStep(9) error = %v, want ErrOutOfRange", err)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowListing)

	last := 0.0
	check := func(view View) {
		t.Helper()
		if view.Progress < last {
			t.Fatalf("progress decreased from %v to %v", last, view.Progress)
		}
		last = view.Progress
	}

	check(mustUpdate(t, ctrl, "title", "Villa Puncak"))
	check(mustUpdate(t, ctrl, "property_type", "villa"))
	check(mustUpdate(t, ctrl, "price", 2300000000))
	check(mustNext(t, ctrl))
	view, _ := ctrl.GoNext() // blocked: location fields missing
	check(view)
	view, _ = ctrl.GoBack()
	check(view)
	check(mustNext(t, ctrl)) // step 0 still valid, completing it again
	check(mustUpdate(t, ctrl, "address", "Jl. Raya Puncak 88"))
	check(mustUpdate(t, ctrl, "city", "Bogor"))
	check(mustNext(t, ctrl))
}

func TestSubmitPostsExactlyOncePerWindow(t *testing.T) {
	env := newTestEnv(t)
	env.submitter.started = make(chan struct{}, 1)
	env.submitter.release = make(chan struct{})
	ctrl := env.controller(t, FlowListing)
	advanceToReview(t, ctrl)

	type submitResult struct {
		view View
		err  error
	}
	first := make(chan submitResult, 1)
	go func() {
		view, err := ctrl.Submit(context.Background())
		first <- submitResult{view, err}
	}()

	<-env.submitter.started

	// Second trigger while the first request is still on the wire.
	if _, err := ctrl.Submit(context.Background()); !errors.Is(err, domain.ErrSubmitInFlight) {
		t.Fatalf("second Submit error = %v, want ErrSubmitInFlight", err)
	}
	if got := env.submitter.callCount(); got != 1 {
		t.Fatalf("backend received %d posts, want 1", got)
	}

	close(env.submitter.release)
	res := <-first
	if res.err != nil {
		t.Fatalf("first Submit returned error: %v", res.err)
	}
	if res.view.Status != domain.SessionStatusSubmitted {
		t.Fatalf("Status = %q, want submitted", res.view.Status)
	}
	if res.view.ListingID != "listing-123" {
		t.Fatalf("ListingID = %q, want listing-123", res.view.ListingID)
	}
	if got := env.submitter.callCount(); got != 1 {
		t.Fatalf("backend received %d posts, want 1", got)
	}

	// The draft is gone and the session is terminal.
	if _, err := env.repo.Get(context.Background(), ctrl.DraftID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("draft after submit: err = %v, want ErrNotFound", err)
	}
	if _, err := ctrl.Submit(context.Background()); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("Submit after success error = %v, want ErrSessionFinished", err)
	}
}

func TestSubmitMapsFieldRejectionsToOwningSteps(t *testing.T) {
	env := newTestEnv(t)
	env.submitter.setResult(&crm.SubmitResult{
		FieldErrors: map[string]string{
			"price":      "price is below the market minimum",
			"agent_code": "unknown agent code",
		},
	}, nil)
	ctrl := env.controller(t, FlowListing)
	advanceToReview(t, ctrl)

	view, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if view.Status != domain.SessionStatusSubmitFailed {
		t.Fatalf("Status = %q, want submit_failed", view.Status)
	}
	if got := view.Errors["property_basics"]["price"]; got != "price is below the market minimum" {
		t.Fatalf("mapped price error = %q", got)
	}
	if !strings.Contains(view.SubmitBanner, "agent_code") {
		t.Fatalf("banner %q should carry the unmapped field", view.SubmitBanner)
	}

	// All data stays intact and a retry can succeed.
	if view.Form["title"] != "Rumah Modern Dekat Stasiun" {
		t.Fatalf("form lost data after rejection: %v", view.Form["title"])
	}
	env.submitter.setResult(&crm.SubmitResult{ListingID: "listing-9"}, nil)
	view, err = ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("retry Submit returned error: %v", err)
	}
	if view.Status != domain.SessionStatusSubmitted || view.ListingID != "listing-9" {
		t.Fatalf("retry outcome = %q/%q, want submitted/listing-9", view.Status, view.ListingID)
	}
}

func TestSubmitTransportFailureSetsBannerAndAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	env.submitter.setResult(nil, errors.New("dial tcp: connection refused"))
	ctrl := env.controller(t, FlowListing)
	advanceToReview(t, ctrl)

	view, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if view.Status != domain.SessionStatusSubmitFailed {
		t.Fatalf("Status = %q, want submit_failed", view.Status)
	}
	if view.SubmitBanner == "" {
		t.Fatal("expected a banner after a transport failure")
	}

	env.submitter.setResult(nil, nil)
	view, err = ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("retry Submit returned error: %v", err)
	}
	if view.Status != domain.SessionStatusSubmitted {
		t.Fatalf("Status = %q, want submitted", view.Status)
	}
	if view.SubmitBanner != "" {
		t.Fatalf("banner should be cleared on success, got %q", view.SubmitBanner)
	}
}

func TestSubmitRequiresTheLastStep(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowListing)

	if _, err := ctrl.Submit(context.Background()); !errors.Is(err, domain.ErrStepBlocked) {
		t.Fatalf("Submit on first step error = %v, want ErrStepBlocked", err)
	}
	if got := env.submitter.callCount(); got != 0 {
		t.Fatalf("backend received %d posts, want 0", got)
	}
}

func TestAssistTimeoutPreservesTypedText(t *testing.T) {
	env := newTestEnv(t)
	env.gen.waitCtx = true
	ctrl := env.controller(t, FlowListing)

	mustUpdate(t, ctrl, "title", "Apartemen 2BR")
	mustUpdate(t, ctrl, "property_type", "apartment")
	mustUpdate(t, ctrl, "price", 900000000)
	mustNext(t, ctrl)
	mustUpdate(t, ctrl, "address", "Jl. Sudirman Kav. 1")
	mustUpdate(t, ctrl, "city", "Jakarta")
	mustNext(t, ctrl)

	mustUpdate(t, ctrl, "description", "Spacious flat")

	outcome, err := ctrl.GenerateAssist(context.Background(), "description", "en")
	if err != nil {
		t.Fatalf("GenerateAssist returned error: %v", err)
	}
	if outcome.Status != assist.StatusTimeout {
		t.Fatalf("Status = %q, want timeout", outcome.Status)
	}
	if !outcome.ManualFallback {
		t.Fatal("timeout should request manual fallback")
	}

	view := ctrl.View()
	if got := view.Form["description"]; got != "Spacious flat" {
		t.Fatalf("description = %q, want the typed text preserved", got)
	}
}

func TestAssistResultFillsFieldAndPersists(t *testing.T) {
	env := newTestEnv(t)
	env.gen.text = "Apartemen dua kamar dengan pemandangan kota dan akses MRT."
	ctrl := env.controller(t, FlowListing)

	mustUpdate(t, ctrl, "title", "Apartemen 2BR")
	mustUpdate(t, ctrl, "property_type", "apartment")
	mustUpdate(t, ctrl, "price", 900000000)
	mustNext(t, ctrl)
	mustUpdate(t, ctrl, "address", "Jl. Sudirman Kav. 1")
	mustUpdate(t, ctrl, "city", "Jakarta")
	mustNext(t, ctrl)

	outcome, err := ctrl.GenerateAssist(context.Background(), "description", "id")
	if err != nil {
		t.Fatalf("GenerateAssist returned error: %v", err)
	}
	if outcome.Status != assist.StatusResult {
		t.Fatalf("Status = %q, want result", outcome.Status)
	}
	view := ctrl.View()
	if view.Form["description"] != env.gen.text {
		t.Fatalf("description = %q, want generated text", view.Form["description"])
	}

	if err := ctrl.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	record, err := env.repo.Get(context.Background(), ctrl.DraftID())
	if err != nil {
		t.Fatalf("Get draft returned error: %v", err)
	}
	if record.Form["description"] != env.gen.text {
		t.Fatalf("persisted description = %q, want generated text", record.Form["description"])
	}
}

func TestAssistStaleWhenUserTypesDuringGeneration(t *testing.T) {
	env := newTestEnv(t)
	env.gen.text = "Late generated copy that must be discarded."
	env.gen.started = make(chan struct{}, 1)
	env.gen.release = make(chan struct{})
	ctrl := env.controller(t, FlowListing)

	mustUpdate(t, ctrl, "title", "Ruko Dua Lantai")
	mustUpdate(t, ctrl, "property_type", "ruko")
	mustUpdate(t, ctrl, "price", 1500000000)
	mustNext(t, ctrl)
	mustUpdate(t, ctrl, "address", "Jl. Gajah Mada 5")
	mustUpdate(t, ctrl, "city", "Semarang")
	mustNext(t, ctrl)

	outcomes := make(chan assist.Outcome, 1)
	go func() {
		outcome, _ := ctrl.GenerateAssist(context.Background(), "description", "id")
		outcomes <- outcome
	}()
	<-env.gen.started

	// The user keeps typing while the request is on the wire.
	mustUpdate(t, ctrl, "description", "Ruko siap pakai di jalan utama, cocok untuk usaha.")
	close(env.gen.release)

	outcome := <-outcomes
	if outcome.Status != assist.StatusStale {
		t.Fatalf("Status = %q, want stale", outcome.Status)
	}
	view := ctrl.View()
	if view.Form["description"] != "Ruko siap pakai di jalan utama, cocok untuk usaha." {
		t.Fatalf("description = %q, want the user's text", view.Form["description"])
	}
}

func TestAssistOnlyAvailableForCurrentStepFields(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowListing)

	if _, err := ctrl.GenerateAssist(context.Background(), "description", "en"); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("GenerateAssist off-step error = %v, want ErrOutOfRange", err)
	}
}

func TestUpdateFieldDerivesBrandingSynchronously(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowOnboarding)

	view := mustUpdate(t, ctrl, "primary_color", "#2E86AB")
	if view.Branding == nil {
		t.Fatal("Branding should be derived as soon as the primary color is set")
	}
	if view.Branding.Primary != "#2e86ab" {
		t.Fatalf("Primary = %q, want #2e86ab", view.Branding.Primary)
	}
	first := *view.Branding

	view = mustUpdate(t, ctrl, "primary_color", "#2E86AB")
	if !reflect.DeepEqual(*view.Branding, first) {
		t.Fatalf("re-deriving the same color changed the palette: %+v != %+v", *view.Branding, first)
	}

	// A half-typed value keeps the last valid palette.
	view = mustUpdate(t, ctrl, "primary_color", "#2E86A")
	if view.Branding == nil || !reflect.DeepEqual(*view.Branding, first) {
		t.Fatalf("invalid color should keep the previous palette, got %+v", view.Branding)
	}

	view = mustUpdate(t, ctrl, "primary_color", "")
	if view.Branding != nil {
		t.Fatalf("clearing the color should clear the palette, got %+v", view.Branding)
	}
}

func TestAttachmentLifecycleThroughController(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowListing)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"front.jpg", "kitchen.jpg", "garden.jpg"} {
		item, err := ctrl.AddAttachment(ctx, media.AddRequest{
			Filename: name,
			MIME:     "image/jpeg",
			Kind:     domain.AttachmentKindPhoto,
			Data:     []byte("jpeg-bytes"),
		})
		if err != nil {
			t.Fatalf("AddAttachment(%s) returned error: %v", name, err)
		}
		ids = append(ids, item.ID)
	}

	view := ctrl.View()
	if len(view.Attachments) != 3 {
		t.Fatalf("attachments = %d, want 3", len(view.Attachments))
	}
	for i, item := range view.Attachments {
		if item.Order != i {
			t.Fatalf("attachment %d has order %d", i, item.Order)
		}
	}
	if !strings.HasPrefix(view.Attachments[0].URL, "http://localhost:8080/static/drafts/") {
		t.Fatalf("attachment URL = %q, want static base prefix", view.Attachments[0].URL)
	}

	if err := ctrl.RemoveAttachment(ctx, ids[1]); err != nil {
		t.Fatalf("RemoveAttachment returned error: %v", err)
	}
	view = ctrl.View()
	if len(view.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(view.Attachments))
	}
	if view.Attachments[0].ID != ids[0] || view.Attachments[0].Order != 0 {
		t.Fatalf("first attachment = %s/%d, want %s/0", view.Attachments[0].ID, view.Attachments[0].Order, ids[0])
	}
	if view.Attachments[1].ID != ids[2] || view.Attachments[1].Order != 1 {
		t.Fatalf("second attachment = %s/%d, want %s/1", view.Attachments[1].ID, view.Attachments[1].Order, ids[2])
	}

	items, err := ctrl.ReorderAttachment(ctx, ids[2], 0)
	if err != nil {
		t.Fatalf("ReorderAttachment returned error: %v", err)
	}
	if items[0].ID != ids[2] || items[1].ID != ids[0] {
		t.Fatalf("reordered ids = [%s %s], want [%s %s]", items[0].ID, items[1].ID, ids[2], ids[0])
	}

	// The attachment list rides along in the persisted draft.
	if err := ctrl.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	record, err := env.repo.Get(ctx, ctrl.DraftID())
	if err != nil {
		t.Fatalf("Get draft returned error: %v", err)
	}
	if len(record.Attachments) != 2 || record.Attachments[0].ID != ids[2] {
		t.Fatalf("persisted attachments = %+v, want reordered pair", record.Attachments)
	}
}

func TestUpdateFieldAfterSubmitIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctrl := env.controller(t, FlowListing)
	advanceToReview(t, ctrl)

	if _, err := ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := ctrl.UpdateField("title", "changed"); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("UpdateField after submit error = %v, want ErrSessionFinished", err)
	}
	if _, err := ctrl.GoBack(); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("GoBack after submit error = %v, want ErrSessionFinished", err)
	}
}
