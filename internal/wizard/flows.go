package wizard

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"server/internal/branding"
	"server/internal/domain"
)

// Built-in flow ids.
const (
	FlowOnboarding = "onboarding"
	FlowListing    = "listing"
)

// fieldPrimaryColor is the branding input field. The controller re-derives
// the palette synchronously whenever it changes.
const fieldPrimaryColor = "primary_color"

func onboardingFlow() Flow {
	return MustFlow(FlowOnboarding, "Agent Onboarding",
		domain.StepDescriptor{
			ID:             "personal_info",
			Title:          "Personal Info",
			Kind:           domain.StepKindForm,
			RequiredFields: []string{"first_name", "last_name", "phone"},
			Validate:       validatePersonalInfo,
		},
		domain.StepDescriptor{
			ID:             "agency_profile",
			Title:          "Agency Profile",
			Kind:           domain.StepKindForm,
			RequiredFields: []string{"agency_name", "city"},
			Validate:       validateAgencyProfile,
		},
		domain.StepDescriptor{
			ID:             "branding",
			Title:          "Branding",
			Kind:           domain.StepKindForm,
			RequiredFields: []string{fieldPrimaryColor},
			Validate:       validateBranding,
		},
		domain.StepDescriptor{
			ID:    "review",
			Title: "Review & Finish",
			Kind:  domain.StepKindReview,
		},
	)
}

func listingFlow() Flow {
	return MustFlow(FlowListing, "Post a Property",
		domain.StepDescriptor{
			ID:             "property_basics",
			Title:          "Property Basics",
			Kind:           domain.StepKindForm,
			RequiredFields: []string{"title", "property_type", "price"},
			Validate:       validatePropertyBasics,
		},
		domain.StepDescriptor{
			ID:             "location",
			Title:          "Location",
			Kind:           domain.StepKindForm,
			RequiredFields: []string{"address", "city"},
			Validate:       validateLocation,
		},
		domain.StepDescriptor{
			ID:             "description",
			Title:          "Description",
			Kind:           domain.StepKindAssist,
			RequiredFields: []string{"headline", "description"},
			AssistFields:   []string{"headline", "description"},
			Validate:       validateDescription,
		},
		domain.StepDescriptor{
			ID:    "photos",
			Title: "Photos",
			Kind:  domain.StepKindMedia,
		},
		domain.StepDescriptor{
			ID:    "review",
			Title: "Review & Publish",
			Kind:  domain.StepKindReview,
		},
	)
}

func validatePersonalInfo(form domain.FormData) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if phone := form.StringValue("phone"); phone != "" && !validPhone(phone) {
		errs["phone"] = "phone must contain 8 to 15 digits"
	}
	return errs
}

func validateAgencyProfile(form domain.FormData) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if name := form.StringValue("agency_name"); name != "" && len(name) < 3 {
		errs["agency_name"] = "agency_name must be at least 3 characters"
	}
	if site := form.StringValue("website"); site != "" {
		u, err := url.Parse(site)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs["website"] = "website must be an http(s) URL"
		}
	}
	return errs
}

func validateBranding(form domain.FormData) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if hex := form.StringValue(fieldPrimaryColor); hex != "" {
		if _, err := branding.Derive(hex); err != nil {
			errs[fieldPrimaryColor] = "primary_color must be a hex color like #2E86AB"
		}
	}
	return errs
}

var propertyTypes = map[string]struct{}{
	"house":     {},
	"apartment": {},
	"land":      {},
	"ruko":      {},
	"villa":     {},
}

func validatePropertyBasics(form domain.FormData) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if typ := form.StringValue("property_type"); typ != "" {
		if _, ok := propertyTypes[strings.ToLower(typ)]; !ok {
			errs["property_type"] = "property_type must be one of house, apartment, land, ruko, villa"
		}
	}
	if price, ok := numericValue(form["price"]); ok && price <= 0 {
		errs["price"] = "price must be greater than zero"
	} else if !ok && form["price"] != nil {
		errs["price"] = "price must be a number"
	}
	if form["area_sqm"] != nil {
		if area, ok := numericValue(form["area_sqm"]); !ok || area <= 0 {
			errs["area_sqm"] = "area_sqm must be a positive number"
		}
	}
	for _, key := range []string{"bedrooms", "bathrooms"} {
		if form[key] == nil {
			continue
		}
		if n, ok := numericValue(form[key]); !ok || n < 0 || n != float64(int(n)) {
			errs[key] = fmt.Sprintf("%s must be a whole number", key)
		}
	}
	return errs
}

func validateLocation(form domain.FormData) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if form["latitude"] != nil {
		if lat, ok := numericValue(form["latitude"]); !ok || lat < -90 || lat > 90 {
			errs["latitude"] = "latitude must be between -90 and 90"
		}
	}
	if form["longitude"] != nil {
		if lng, ok := numericValue(form["longitude"]); !ok || lng < -180 || lng > 180 {
			errs["longitude"] = "longitude must be between -180 and 180"
		}
	}
	return errs
}

func validateDescription(form domain.FormData) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if headline := form.StringValue("headline"); len(headline) > 90 {
		errs["headline"] = "headline must be 90 characters or fewer"
	}
	if desc := form.StringValue("description"); desc != "" && len(desc) < 20 {
		errs["description"] = "description must be at least 20 characters"
	}
	return errs
}

// validPhone accepts an optional leading + followed by 8 to 15 digits, with
// spaces and dashes ignored.
func validPhone(raw string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(raw)
	cleaned = strings.TrimPrefix(cleaned, "+")
	if len(cleaned) < 8 || len(cleaned) > 15 {
		return false
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// numericValue normalizes JSON numbers, Go ints and numeric strings.
func numericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return n, err == nil
	default:
		return 0, false
	}
}
