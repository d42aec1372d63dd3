package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/domain/jsoncfg"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// DraftRepositoryPG implements domain.DraftRepository on top of PostgreSQL.
// The resume state lives in one JSONB document per draft; flow_id and status
// are mirrored into columns so operational queries stay cheap.
type DraftRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewDraftRepository creates a new draft repository backed by PostgreSQL.
func NewDraftRepository(sql infra.SQLExecutor) *DraftRepositoryPG {
	return &DraftRepositoryPG{sql: sql}
}

// Save upserts the draft snapshot keyed by its draft id.
func (r *DraftRepositoryPG) Save(ctx context.Context, record *domain.DraftRecord) error {
	doc := draftDocument(record)
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("draft payload: %w", err)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("draft payload: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertDraft, record.DraftID, record.FlowID, doc.Status, payload)
	return err
}

// Get loads one draft snapshot or domain.ErrNotFound.
func (r *DraftRepositoryPG) Get(ctx context.Context, draftID string) (*domain.DraftRecord, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectDraft, draftID)
	var (
		payload   []byte
		updatedAt time.Time
	)
	if err := row.Scan(&payload, &updatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return recordFromPayload(draftID, payload, updatedAt)
}

// Delete removes a draft. Deleting an absent draft is not an error.
func (r *DraftRepositoryPG) Delete(ctx context.Context, draftID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteDraft, draftID)
	return err
}

// ListExpired returns up to limit drafts untouched since before, oldest
// first. A draft whose payload no longer decodes is still returned with its
// id and timestamp so the sweeper can purge it.
func (r *DraftRepositoryPG) ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.DraftRecord, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectExpiredDrafts, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DraftRecord
	for rows.Next() {
		var (
			draftID   string
			payload   []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&draftID, &payload, &updatedAt); err != nil {
			return nil, err
		}
		record, err := recordFromPayload(draftID, payload, updatedAt)
		if err != nil {
			record = &domain.DraftRecord{DraftID: draftID, UpdatedAt: updatedAt}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func draftDocument(record *domain.DraftRecord) jsoncfg.DraftJSON {
	attachments := make([]jsoncfg.AttachmentJSON, 0, len(record.Attachments))
	for _, att := range record.Attachments {
		attachments = append(attachments, jsoncfg.AttachmentJSON{
			ID:         att.ID,
			StorageKey: att.StorageKey,
			URL:        att.URL,
			MIME:       att.MIME,
			Bytes:      att.Bytes,
			Kind:       string(att.Kind),
			Order:      att.Order,
		})
	}
	return jsoncfg.DraftJSON{
		FlowID:         record.FlowID,
		Form:           record.Form,
		CurrentIndex:   record.Index,
		CompletedSteps: record.Completed,
		Attachments:    attachments,
		Status:         string(record.Status),
	}
}

func recordFromPayload(draftID string, payload []byte, updatedAt time.Time) (*domain.DraftRecord, error) {
	var doc jsoncfg.DraftJSON
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("draft %s: decode payload: %w", draftID, err)
	}
	doc.Normalize()
	attachments := make([]domain.MediaAttachment, 0, len(doc.Attachments))
	for _, att := range doc.Attachments {
		attachments = append(attachments, domain.MediaAttachment{
			ID:         att.ID,
			StorageKey: att.StorageKey,
			URL:        att.URL,
			MIME:       att.MIME,
			Bytes:      att.Bytes,
			Kind:       domain.AttachmentKind(att.Kind),
			Order:      att.Order,
		})
	}
	return &domain.DraftRecord{
		DraftID:     draftID,
		FlowID:      doc.FlowID,
		Form:        doc.Form,
		Index:       doc.CurrentIndex,
		Completed:   doc.CompletedSteps,
		Attachments: attachments,
		Status:      domain.SessionStatus(doc.Status),
		UpdatedAt:   updatedAt,
	}, nil
}
