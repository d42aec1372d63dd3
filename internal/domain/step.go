package domain

import (
	"fmt"
	"strings"
)

// StepKind enumerates the supported step renderings.
type StepKind string

const (
	StepKindForm   StepKind = "form"
	StepKindAssist StepKind = "assist"
	StepKindMedia  StepKind = "media"
	StepKindReview StepKind = "review"
)

// FormData holds the flat field-key to value map shared by every step of a
// session. Field keys are globally unique across a flow.
type FormData map[string]any

// FieldErrors maps field keys to human-readable validation messages.
type FieldErrors map[string]string

// ValidateFunc applies step-specific rules on top of the required-field check.
type ValidateFunc func(form FormData) FieldErrors

// StepDescriptor declares one step of a flow. Descriptors are immutable once a
// session is created; all mutable state lives on the session itself.
type StepDescriptor struct {
	ID             string
	Title          string
	Kind           StepKind
	RequiredFields []string
	AssistFields   []string
	Validate       ValidateFunc
}

// Check runs the required-field rules followed by the custom validator and
// returns the merged field errors. An empty map means the step may be left.
func (s StepDescriptor) Check(form FormData) FieldErrors {
	errs := FieldErrors{}
	for _, key := range s.RequiredFields {
		if isBlank(form[key]) {
			errs[key] = fmt.Sprintf("%s is required", key)
		}
	}
	if s.Validate != nil {
		for key, msg := range s.Validate(form) {
			if _, ok := errs[key]; !ok {
				errs[key] = msg
			}
		}
	}
	return errs
}

// AllowsAssist reports whether the field is eligible for AI generation on this step.
func (s StepDescriptor) AllowsAssist(fieldKey string) bool {
	for _, key := range s.AssistFields {
		if key == fieldKey {
			return true
		}
	}
	return false
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// Clone returns a deep copy of the form data so callers can snapshot state
// without aliasing the session's map.
func (f FormData) Clone() FormData {
	out := make(FormData, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// StringValue returns the field as a trimmed string, or "" when absent.
func (f FormData) StringValue(key string) string {
	if v, ok := f[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
