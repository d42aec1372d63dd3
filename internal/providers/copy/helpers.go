package copy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	staticProviderName = "static"
	geminiProviderName = "gemini"
)

func buildFieldPrompt(req FieldRequest) string {
	locale := req.Locale
	if locale == "" {
		locale = "en"
	}
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "You are a real-estate copywriter helping agents publish property listings. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"text":string,"confidence":number}`)
	fmt.Fprintf(sb, ". Confidence is your own estimate between 0 and 1. Use locale '%s' for language choices. Write the %q field for this listing: title=%q, property_type=%q, price=%q, area_sqm=%q, address=%q, city=%q, district=%q. Focus on persuasive yet factual copy without superlative spam.",
		locale,
		req.FieldKey,
		formString(req.Form, "title"),
		formString(req.Form, "property_type"),
		formString(req.Form, "price"),
		formString(req.Form, "area_sqm"),
		formString(req.Form, "address"),
		formString(req.Form, "city"),
		formString(req.Form, "district"),
	)
	return sb.String()
}

func formString(form map[string]any, key string) string {
	if form == nil {
		return ""
	}
	switch v := form[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseModelPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
