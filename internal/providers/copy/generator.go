package copy

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FieldRequest asks for generated text for one wizard field. Form carries a
// snapshot of the session's form data so prompts can reference earlier answers.
type FieldRequest struct {
	FieldKey string
	FlowID   string
	Locale   string
	Form     map[string]any
}

// FieldResult is one generated suggestion for a field.
type FieldResult struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	Provider       string  `json:"-"`
	FallbackReason string  `json:"-"`
}

// Generator produces listing copy for a single field.
type Generator interface {
	GenerateField(ctx context.Context, req FieldRequest) (*FieldResult, error)
}

// staticConfidence marks static suggestions as low-trust so clients can rank
// them below model output.
const staticConfidence = 0.30

// StaticGenerator produces deterministic template copy. It backs the chain
// when the model provider is unavailable and keeps development environments
// working without credentials.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (s *StaticGenerator) GenerateField(ctx context.Context, req FieldRequest) (*FieldResult, error) {
	c := cases.Title(language.Und)
	propertyType := formString(req.Form, "property_type")
	if propertyType == "" {
		propertyType = "property"
	}
	city := coalesce(formString(req.Form, "district"), formString(req.Form, "city"))
	title := formString(req.Form, "title")

	var text string
	switch req.FieldKey {
	case "headline":
		if city != "" {
			text = fmt.Sprintf("%s in %s", c.String(propertyType), c.String(city))
		} else {
			text = fmt.Sprintf("%s for Sale", c.String(propertyType))
		}
		if req.Locale == "id" {
			if city != "" {
				text = fmt.Sprintf("%s di %s", c.String(propertyType), c.String(city))
			} else {
				text = fmt.Sprintf("%s Dijual", c.String(propertyType))
			}
		}
	case "description":
		area := formString(req.Form, "area_sqm")
		sb := &strings.Builder{}
		if req.Locale == "id" {
			fmt.Fprintf(sb, "%s terawat", c.String(propertyType))
			if area != "" {
				fmt.Fprintf(sb, " seluas %s m2", area)
			}
			if city != "" {
				fmt.Fprintf(sb, " di %s", c.String(city))
			}
			sb.WriteString(". Dekat sekolah dan akses transportasi.")
		} else {
			fmt.Fprintf(sb, "Well-maintained %s", strings.ToLower(propertyType))
			if area != "" {
				fmt.Fprintf(sb, " of %s sqm", area)
			}
			if city != "" {
				fmt.Fprintf(sb, " in %s", c.String(city))
			}
			sb.WriteString(". Close to schools and public transport.")
		}
		text = sb.String()
	default:
		text = coalesce(title, c.String(propertyType))
	}

	return &FieldResult{
		Text:       text,
		Confidence: staticConfidence,
		Provider:   staticProviderName,
	}, nil
}

var _ Generator = (*StaticGenerator)(nil)
