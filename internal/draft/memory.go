package draft

import (
	"context"
	"sync"
	"time"

	"server/internal/domain"
)

// MemoryRepository keeps drafts in process memory. It backs tests and
// development environments without a database.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*domain.DraftRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: map[string]*domain.DraftRecord{}}
}

func (r *MemoryRepository) Save(ctx context.Context, record *domain.DraftRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := cloneRecord(record)
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now().UTC()
	}
	r.records[record.DraftID] = clone
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, draftID string) (*domain.DraftRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[draftID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, draftID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, draftID)
	return nil
}

func (r *MemoryRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.DraftRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DraftRecord
	for _, record := range r.records {
		if record.UpdatedAt.Before(before) {
			out = append(out, cloneRecord(record))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func cloneRecord(record *domain.DraftRecord) *domain.DraftRecord {
	clone := *record
	clone.Form = record.Form.Clone()
	clone.Completed = append([]int(nil), record.Completed...)
	clone.Attachments = append([]domain.MediaAttachment(nil), record.Attachments...)
	return &clone
}

var _ domain.DraftRepository = (*MemoryRepository)(nil)
