package domain

import "time"

// SessionStatus enumerates wizard session lifecycle states.
type SessionStatus string

const (
	SessionStatusDraft        SessionStatus = "draft"
	SessionStatusSubmitting   SessionStatus = "submitting"
	SessionStatusSubmitted    SessionStatus = "submitted"
	SessionStatusSubmitFailed SessionStatus = "submit_failed"
)

// WizardSession is the aggregate behind one run through a flow. Steps are
// fixed at creation; everything else mutates only through the controller.
type WizardSession struct {
	DraftID      string
	FlowID       string
	Steps        []StepDescriptor
	CurrentIndex int
	Form         FormData
	Errors       map[string]FieldErrors
	Completed    map[int]struct{}
	Status       SessionStatus
	SubmitBanner string
	ListingID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSession builds a fresh session positioned on the first step.
func NewSession(draftID, flowID string, steps []StepDescriptor, now time.Time) *WizardSession {
	return &WizardSession{
		DraftID:   draftID,
		FlowID:    flowID,
		Steps:     steps,
		Form:      FormData{},
		Errors:    map[string]FieldErrors{},
		Completed: map[int]struct{}{},
		Status:    SessionStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CurrentStep returns the descriptor the session is positioned on.
func (s *WizardSession) CurrentStep() StepDescriptor {
	return s.Steps[s.CurrentIndex]
}

// IsLastStep reports whether the session sits on the final step.
func (s *WizardSession) IsLastStep() bool {
	return s.CurrentIndex == len(s.Steps)-1
}

// MarkCompleted records the step index as validated.
func (s *WizardSession) MarkCompleted(index int) {
	s.Completed[index] = struct{}{}
}

// IsCompleted reports whether the step index has passed validation before.
func (s *WizardSession) IsCompleted(index int) bool {
	_, ok := s.Completed[index]
	return ok
}

// MaxCompletedIndex returns the highest validated step index, or -1 when no
// step has been completed yet. Navigation may jump at most one past it.
func (s *WizardSession) MaxCompletedIndex() int {
	max := -1
	for idx := range s.Completed {
		if idx > max {
			max = idx
		}
	}
	return max
}

// CompletedList returns the completed step indexes in ascending order.
func (s *WizardSession) CompletedList() []int {
	out := make([]int, 0, len(s.Completed))
	for idx := range s.Completed {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Progress returns the completed fraction in [0,1]. It only ever grows
// because completed steps are never un-completed.
func (s *WizardSession) Progress() float64 {
	if len(s.Steps) == 0 {
		return 0
	}
	return float64(len(s.Completed)) / float64(len(s.Steps))
}

// StepErrors returns the recorded errors for a step id, never nil.
func (s *WizardSession) StepErrors(stepID string) FieldErrors {
	if errs, ok := s.Errors[stepID]; ok {
		return errs
	}
	return FieldErrors{}
}

// Finished reports whether the session reached a terminal submitted state.
func (s *WizardSession) Finished() bool {
	return s.Status == SessionStatusSubmitted
}
