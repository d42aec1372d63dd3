package branding

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Profile is the derived palette pushed to every rendering surface. It is a
// plain value; consumers must treat it as read-only.
type Profile struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
	Theme      string `json:"theme"`
}

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

const (
	// hueOffset separates the primary hue from the derived secondary and
	// accent hues, in degrees on the HSL wheel.
	hueOffset = 30.0
	// accentSaturationBoost is added to the primary saturation for accents.
	accentSaturationBoost = 0.20
	// backgroundLightnessShift moves the background away from the primary.
	backgroundLightnessShift = 0.40

	extremeLightnessLow   = 0.20
	extremeLightnessHigh  = 0.80
	extremeLightnessNudge = 0.15

	darkThemeThreshold = 0.50
)

// Derive computes the full palette from a single primary brand color. The
// result depends only on the input hex: identical inputs yield identical
// profiles, so callers may re-run it on every primary change.
func Derive(primaryHex string) (Profile, error) {
	primaryHex = strings.ToLower(strings.TrimSpace(primaryHex))
	if !strings.HasPrefix(primaryHex, "#") {
		return Profile{}, fmt.Errorf("branding: primary color %q must start with '#'", primaryHex)
	}
	primary, err := colorful.Hex(primaryHex)
	if err != nil {
		return Profile{}, fmt.Errorf("branding: parse primary color: %w", err)
	}

	h, s, l := primary.Hsl()

	secondary := colorful.Hsl(wrapHue(h+hueOffset), s, nudgeExtreme(l))
	accent := colorful.Hsl(wrapHue(h-hueOffset), clamp01(s+accentSaturationBoost), l)

	theme := ThemeLight
	backgroundL := clamp01(l + backgroundLightnessShift)
	if l > darkThemeThreshold {
		theme = ThemeDark
		backgroundL = clamp01(l - backgroundLightnessShift)
	}
	background := colorful.Hsl(h, s, backgroundL)

	return Profile{
		Primary:    primary.Hex(),
		Secondary:  secondary.Hex(),
		Accent:     accent.Hex(),
		Background: background.Hex(),
		Theme:      theme,
	}, nil
}

// wrapHue folds a degree value into [0, 360).
func wrapHue(h float64) float64 {
	for h < 0 {
		h += 360
	}
	for h >= 360 {
		h -= 360
	}
	return h
}

// nudgeExtreme pulls a lightness value toward the mid-range when it sits at
// either end, keeping derived colors visible against common backgrounds.
func nudgeExtreme(l float64) float64 {
	if l < extremeLightnessLow {
		return l + extremeLightnessNudge
	}
	if l > extremeLightnessHigh {
		return l - extremeLightnessNudge
	}
	return l
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
