package wizard

import (
	"fmt"

	"server/internal/domain"
)

// Flow is an ordered, validated sequence of step descriptors. Flows are
// assembled once at startup and shared read-only by every session.
type Flow struct {
	ID    string
	Title string
	Steps []domain.StepDescriptor
}

// NewFlow validates the step sequence: at least one step, unique step ids and
// field keys that are unique across the whole flow, so the flat form map can
// never be written by two different steps.
func NewFlow(id, title string, steps ...domain.StepDescriptor) (Flow, error) {
	if id == "" {
		return Flow{}, fmt.Errorf("wizard: flow id is required")
	}
	if len(steps) == 0 {
		return Flow{}, fmt.Errorf("wizard: flow %q has no steps", id)
	}
	seenSteps := map[string]struct{}{}
	fieldOwner := map[string]string{}
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return Flow{}, fmt.Errorf("wizard: flow %q step %d has no id", id, i)
		}
		if _, ok := seenSteps[step.ID]; ok {
			return Flow{}, fmt.Errorf("%w: %q in flow %q", domain.ErrDuplicateStep, step.ID, id)
		}
		seenSteps[step.ID] = struct{}{}
		if step.Kind == "" {
			step.Kind = domain.StepKindForm
		}
		for _, key := range step.RequiredFields {
			if owner, ok := fieldOwner[key]; ok && owner != step.ID {
				return Flow{}, fmt.Errorf("wizard: field %q declared by steps %q and %q in flow %q", key, owner, step.ID, id)
			}
			fieldOwner[key] = step.ID
		}
		for _, key := range step.AssistFields {
			if owner, ok := fieldOwner[key]; ok && owner != step.ID {
				return Flow{}, fmt.Errorf("wizard: field %q declared by steps %q and %q in flow %q", key, owner, step.ID, id)
			}
			fieldOwner[key] = step.ID
		}
	}
	return Flow{ID: id, Title: title, Steps: steps}, nil
}

// MustFlow is NewFlow for static flow definitions.
func MustFlow(id, title string, steps ...domain.StepDescriptor) Flow {
	flow, err := NewFlow(id, title, steps...)
	if err != nil {
		panic(err)
	}
	return flow
}

// StepOwningField returns the id of the step that declares the field key.
func (f Flow) StepOwningField(key string) (string, bool) {
	for _, step := range f.Steps {
		for _, k := range step.RequiredFields {
			if k == key {
				return step.ID, true
			}
		}
		for _, k := range step.AssistFields {
			if k == key {
				return step.ID, true
			}
		}
	}
	return "", false
}

// Registry holds the flows the API serves. It is populated during startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	flows map[string]Flow
	order []string
}

func NewRegistry() *Registry {
	return &Registry{flows: map[string]Flow{}}
}

// Register adds a flow. Registering the same id twice is a programming error.
func (r *Registry) Register(flow Flow) error {
	if _, ok := r.flows[flow.ID]; ok {
		return fmt.Errorf("wizard: flow %q already registered", flow.ID)
	}
	r.flows[flow.ID] = flow
	r.order = append(r.order, flow.ID)
	return nil
}

// Lookup resolves a flow id.
func (r *Registry) Lookup(id string) (Flow, error) {
	flow, ok := r.flows[id]
	if !ok {
		return Flow{}, fmt.Errorf("%w: flow %q", domain.ErrNotFound, id)
	}
	return flow, nil
}

// IDs returns the registered flow ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// DefaultRegistry returns the registry with the two built-in flows.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, flow := range []Flow{onboardingFlow(), listingFlow()} {
		if err := r.Register(flow); err != nil {
			panic(err)
		}
	}
	return r
}
