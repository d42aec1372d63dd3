package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AttachmentJSON is the persisted shape of one media item inside a draft.
type AttachmentJSON struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
	URL        string `json:"url"`
	MIME       string `json:"mime"`
	Bytes      int64  `json:"bytes"`
	Kind       string `json:"kind"`
	Order      int    `json:"order"`
}

// DraftJSON is the canonical JSONB document stored per draft. It carries the
// resume state of a wizard session and nothing else.
type DraftJSON struct {
	Version        string           `json:"version"`
	FlowID         string           `json:"flow_id"`
	Form           map[string]any   `json:"form"`
	CurrentIndex   int              `json:"current_index"`
	CompletedSteps []int            `json:"completed_steps"`
	Attachments    []AttachmentJSON `json:"attachments"`
	Status         string           `json:"status"`
}

const (
	// DefaultDraftVersion represents the schema version persisted for drafts.
	DefaultDraftVersion = "2024-06"
	// DefaultDraftStatus is applied when the document omits the status.
	DefaultDraftStatus = "draft"
)

var allowedDraftStatuses = map[string]struct{}{
	"draft":         {},
	"submitting":    {},
	"submitted":     {},
	"submit_failed": {},
}

// Normalize ensures the draft document respects server defaults and limits.
func (d *DraftJSON) Normalize() {
	if d == nil {
		return
	}
	if d.Version == "" {
		d.Version = DefaultDraftVersion
	}
	if d.Form == nil {
		d.Form = map[string]any{}
	}
	if d.CurrentIndex < 0 {
		d.CurrentIndex = 0
	}
	if d.Status == "" {
		d.Status = DefaultDraftStatus
	}
	d.CompletedSteps = dedupeSorted(d.CompletedSteps)
	if d.Attachments == nil {
		d.Attachments = []AttachmentJSON{}
	}
}

// Validate ensures the draft document satisfies the contract before persistence.
func (d DraftJSON) Validate() error {
	if strings.TrimSpace(d.FlowID) == "" {
		return fmt.Errorf("flow_id is required")
	}
	if d.CurrentIndex < 0 {
		return fmt.Errorf("current_index must not be negative")
	}
	if _, ok := allowedDraftStatuses[d.Status]; !ok {
		return fmt.Errorf("status must be one of draft, submitting, submitted, submit_failed")
	}
	for _, idx := range d.CompletedSteps {
		if idx < 0 {
			return fmt.Errorf("completed_steps must not contain negative indexes")
		}
	}
	return nil
}

func dedupeSorted(indexes []int) []int {
	seen := make(map[int]struct{}, len(indexes))
	out := make([]int, 0, len(indexes))
	for _, idx := range indexes {
		if idx < 0 {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

type UsageEventPayload struct {
	EventType string `json:"event_type"`
	Provider  string `json:"provider"`
	Success   bool   `json:"success"`
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
