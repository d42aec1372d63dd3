package copy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type fakeGenerator struct {
	generate func(context.Context, FieldRequest) (*FieldResult, error)
}

func (f fakeGenerator) GenerateField(ctx context.Context, req FieldRequest) (*FieldResult, error) {
	if f.generate != nil {
		return f.generate(ctx, req)
	}
	return nil, errors.New("generate not implemented")
}

func geminiBody(text string) io.ReadCloser {
	body := fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text)
	return io.NopCloser(strings.NewReader(body))
}

func TestGeminiGeneratorFallbackOnTransportError(t *testing.T) {
	var capturedReason string
	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("boom")
		})},
		Fallback: NewStaticGenerator(),
		OnFallback: func(reason string, err error) {
			capturedReason = reason
		},
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator returned error: %v", err)
	}
	req := FieldRequest{FieldKey: "headline", Locale: "en", Form: map[string]any{"property_type": "apartment", "city": "jakarta"}}
	res, err := gen.GenerateField(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateField returned error: %v", err)
	}
	if res.Provider != staticProviderName {
		t.Fatalf("Provider = %q, want %q", res.Provider, staticProviderName)
	}
	if res.FallbackReason != "http_request" {
		t.Fatalf("FallbackReason = %q, want %q", res.FallbackReason, "http_request")
	}
	if capturedReason != "http_request" {
		t.Fatalf("captured reason = %q, want %q", capturedReason, "http_request")
	}
}

func TestGeminiGeneratorFallsBackToChainedProvider(t *testing.T) {
	fallback := fakeGenerator{
		generate: func(ctx context.Context, req FieldRequest) (*FieldResult, error) {
			return &FieldResult{Text: "chained", Provider: "other"}, nil
		},
	}
	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader(""))}, nil
		})},
		Fallback: fallback,
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator returned error: %v", err)
	}
	res, err := gen.GenerateField(context.Background(), FieldRequest{FieldKey: "headline"})
	if err != nil {
		t.Fatalf("GenerateField returned error: %v", err)
	}
	if res.Provider != "other" {
		t.Fatalf("Provider = %q, want %q", res.Provider, "other")
	}
	if res.FallbackReason != "http_status" {
		t.Fatalf("FallbackReason = %q, want %q", res.FallbackReason, "http_status")
	}
}

func TestGeminiGeneratorParsesFencedPayload(t *testing.T) {
	payload := "```json\n{\"text\":\"Cozy studio near the station\",\"confidence\":1.7}\n```"
	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: geminiBody(payload)}, nil
		})},
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator returned error: %v", err)
	}
	res, err := gen.GenerateField(context.Background(), FieldRequest{FieldKey: "description"})
	if err != nil {
		t.Fatalf("GenerateField returned error: %v", err)
	}
	if res.Text != "Cozy studio near the station" {
		t.Fatalf("Text = %q, want parsed payload", res.Text)
	}
	if res.Confidence != 1 {
		t.Fatalf("Confidence = %v, want clamped 1", res.Confidence)
	}
	if res.Provider != geminiProviderName {
		t.Fatalf("Provider = %q, want %q", res.Provider, geminiProviderName)
	}
}

func TestGeminiGeneratorTimeoutSurfacesWithoutFallback(t *testing.T) {
	fallbackCalled := false
	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, fmt.Errorf("do request: %w", context.DeadlineExceeded)
		})},
		Fallback: fakeGenerator{generate: func(context.Context, FieldRequest) (*FieldResult, error) {
			fallbackCalled = true
			return &FieldResult{Text: "nope"}, nil
		}},
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator returned error: %v", err)
	}
	_, err = gen.GenerateField(context.Background(), FieldRequest{FieldKey: "headline"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GenerateField error = %v, want deadline exceeded", err)
	}
	if fallbackCalled {
		t.Fatal("fallback must not run for timeouts")
	}
}

func TestGeminiGeneratorErrorsWithoutFallback(t *testing.T) {
	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("boom")
		})},
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator returned error: %v", err)
	}
	if _, err := gen.GenerateField(context.Background(), FieldRequest{FieldKey: "headline"}); err == nil {
		t.Fatal("GenerateField should fail when no fallback is configured")
	}
}

func TestStaticGeneratorDeterministicCopy(t *testing.T) {
	gen := NewStaticGenerator()
	req := FieldRequest{
		FieldKey: "headline",
		Locale:   "en",
		Form:     map[string]any{"property_type": "modern apartment", "city": "bandung"},
	}
	first, err := gen.GenerateField(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateField returned error: %v", err)
	}
	second, err := gen.GenerateField(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateField returned error: %v", err)
	}
	if first.Text != second.Text {
		t.Fatalf("static copy not deterministic: %q vs %q", first.Text, second.Text)
	}
	if first.Text != "Modern Apartment in Bandung" {
		t.Fatalf("Text = %q, want title-cased headline", first.Text)
	}
	if first.Confidence != staticConfidence {
		t.Fatalf("Confidence = %v, want %v", first.Confidence, staticConfidence)
	}
}

func TestStaticGeneratorIndonesianLocale(t *testing.T) {
	gen := NewStaticGenerator()
	res, err := gen.GenerateField(context.Background(), FieldRequest{
		FieldKey: "headline",
		Locale:   "id",
		Form:     map[string]any{"property_type": "rumah", "city": "surabaya"},
	})
	if err != nil {
		t.Fatalf("GenerateField returned error: %v", err)
	}
	if res.Text != "Rumah di Surabaya" {
		t.Fatalf("Text = %q, want Indonesian headline", res.Text)
	}
}
