package copy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Generator
	OnFallback func(reason string, err error)
}

// GeminiGenerator asks Gemini for listing copy and degrades to the configured
// fallback on provider failures. Timeouts and cancellations never degrade:
// they surface to the caller so a hung model call cannot masquerade as a
// suggestion.
type GeminiGenerator struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	fallback   Generator
	onFallback func(reason string, err error)
}

const geminiDefaultTimeout = 15 * time.Second

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiGenerator{
		apiKey:     opts.APIKey,
		model:      model,
		baseURL:    baseURL,
		client:     client,
		fallback:   opts.Fallback,
		onFallback: opts.OnFallback,
	}, nil
}

func (g *GeminiGenerator) GenerateField(ctx context.Context, req FieldRequest) (*FieldResult, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{{
				Text: buildFieldPrompt(req),
			}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.4,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.useFallback(ctx, req, "encode_payload", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.useFallback(ctx, req, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		if isDeadline(err) {
			return nil, fmt.Errorf("copy: gemini request: %w", err)
		}
		return g.useFallback(ctx, req, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return g.useFallback(ctx, req, "http_status", fmt.Errorf("status %d", resp.StatusCode))
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if isDeadline(err) {
			return nil, fmt.Errorf("copy: gemini response: %w", err)
		}
		return g.useFallback(ctx, req, "decode_response", err)
	}
	text := extractCandidateText(out)
	if text == "" {
		return g.useFallback(ctx, req, "empty_candidates", errors.New("no candidate text"))
	}
	parsed, err := parseModelPayload[FieldResult](text)
	if err != nil {
		return g.useFallback(ctx, req, "parse_payload", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return g.useFallback(ctx, req, "empty_text", errors.New("model returned empty text"))
	}
	return &FieldResult{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: clampConfidence(parsed.Confidence),
		Provider:   geminiProviderName,
	}, nil
}

func (g *GeminiGenerator) endpoint() string {
	base := strings.TrimRight(g.baseURL, "/")
	model := url.PathEscape(g.model)
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, model, url.QueryEscape(g.apiKey))
}

func (g *GeminiGenerator) useFallback(ctx context.Context, req FieldRequest, reason string, cause error) (*FieldResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("copy: gemini request: %w", err)
	}
	if g.fallback == nil {
		return nil, fmt.Errorf("copy: gemini %s: %w", reason, cause)
	}
	if g.onFallback != nil {
		g.onFallback(reason, cause)
	}
	res, err := g.fallback.GenerateField(ctx, req)
	if res != nil {
		res.FallbackReason = reason
	}
	return res, err
}

func extractCandidateText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

var _ Generator = (*GeminiGenerator)(nil)
