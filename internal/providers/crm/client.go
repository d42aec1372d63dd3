package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
)

// SubmitRequest carries the finished wizard aggregate to the listing backend.
type SubmitRequest struct {
	DraftID     string
	FlowID      string
	Form        domain.FormData
	Attachments []domain.MediaAttachment
}

// SubmitResult is the defined outcome of a submission attempt. A rejected
// submission carries field-keyed errors instead of a listing id; transport
// and server failures are returned as errors, not results.
type SubmitResult struct {
	ListingID   string
	FieldErrors map[string]string
	Message     string
}

// Accepted reports whether the backend created the listing.
func (r *SubmitResult) Accepted() bool {
	return r != nil && len(r.FieldErrors) == 0 && r.ListingID != ""
}

// Submitter posts completed wizard sessions to the property backend.
type Submitter interface {
	CreateListing(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

const clientDefaultTimeout = 20 * time.Second

// Options configures the HTTP submitter.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client talks to the CRM/property backend over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("crm base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: clientDefaultTimeout}
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		client:  client,
	}, nil
}

type createListingPayload struct {
	DraftID     string              `json:"draft_id"`
	Flow        string              `json:"flow"`
	Fields      map[string]any      `json:"fields"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

type attachmentPayload struct {
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Order int    `json:"order"`
}

type createListingResponse struct {
	ID      string            `json:"id"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

// CreateListing posts the aggregate once. A 422 response is decoded into a
// SubmitResult with field errors; any other non-2xx status is an error the
// caller may surface as a retryable failure.
func (c *Client) CreateListing(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	payload := createListingPayload{
		DraftID: req.DraftID,
		Flow:    req.FlowID,
		Fields:  req.Form,
	}
	for _, item := range req.Attachments {
		payload.Attachments = append(payload.Attachments, attachmentPayload{
			URL:   item.URL,
			Kind:  string(item.Kind),
			Order: item.Order,
		})
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("crm: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/listings", &buf)
	if err != nil {
		return nil, fmt.Errorf("crm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("crm: create listing: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out createListingResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("crm: decode response: %w", err)
		}
		if out.ID == "" {
			return nil, errors.New("crm: response missing listing id")
		}
		return &SubmitResult{ListingID: out.ID}, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var out createListingResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("crm: decode validation response: %w", err)
		}
		if len(out.Errors) == 0 && out.Message == "" {
			out.Message = "listing rejected by the backend"
		}
		return &SubmitResult{FieldErrors: out.Errors, Message: out.Message}, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("crm: create listing: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

var _ Submitter = (*Client)(nil)
