package domain

import (
	"context"
	"time"
)

// DraftRepository defines persistence for session drafts.
type DraftRepository interface {
	Save(ctx context.Context, record *DraftRecord) error
	Get(ctx context.Context, draftID string) (*DraftRecord, error)
	Delete(ctx context.Context, draftID string) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*DraftRecord, error)
}
