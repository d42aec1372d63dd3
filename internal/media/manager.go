package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/storage"
)

// ErrClosed is returned for mutations after the manager shut down.
var ErrClosed = errors.New("media: manager closed")

const defaultCapacity = 24

// AddRequest carries one upload.
type AddRequest struct {
	Filename string
	MIME     string
	Kind     domain.AttachmentKind
	Data     []byte
}

// Options configures a Manager for one wizard session.
type Options struct {
	DraftID  string
	Store    storage.BlobStore
	BaseURL  string
	Capacity int
	Logger   infra.Logger
	Initial  []domain.MediaAttachment
}

type mutation struct {
	apply func()
	stop  bool
	done  chan struct{}
}

// Manager owns the attachment list of one session. Every mutation and
// snapshot runs on a single worker goroutine, so concurrent calls cannot
// interleave and order positions stay contiguous from zero after each
// mutation.
type Manager struct {
	draftID  string
	store    storage.BlobStore
	baseURL  string
	capacity int
	logger   infra.Logger

	ops     chan mutation
	closeMu sync.RWMutex
	closed  bool
	once    sync.Once

	// items is touched only by the worker goroutine.
	items []domain.MediaAttachment
}

// NewManager starts the mutation worker. Initial items are adopted as-is
// except that order positions are recomputed.
func NewManager(opts Options) *Manager {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	m := &Manager{
		draftID:  opts.DraftID,
		store:    opts.Store,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		capacity: capacity,
		logger:   opts.Logger,
		ops:      make(chan mutation, 16),
		items:    append([]domain.MediaAttachment(nil), opts.Initial...),
	}
	m.reindex()
	go m.run()
	return m
}

func (m *Manager) run() {
	for op := range m.ops {
		if op.stop {
			close(op.done)
			return
		}
		op.apply()
		close(op.done)
	}
}

// do enqueues fn on the worker and waits for it to finish. Enqueueing under
// the read lock guarantees every accepted mutation runs before Close returns.
func (m *Manager) do(ctx context.Context, fn func(ctx context.Context)) error {
	m.closeMu.RLock()
	if m.closed {
		m.closeMu.RUnlock()
		return ErrClosed
	}
	op := mutation{done: make(chan struct{}), apply: func() { fn(ctx) }}
	m.ops <- op
	m.closeMu.RUnlock()
	<-op.done
	return nil
}

// Add uploads the bytes and appends the attachment at the end of the list.
// The capacity check is local: no upload happens for a full list.
func (m *Manager) Add(ctx context.Context, req AddRequest) (domain.MediaAttachment, error) {
	var (
		item domain.MediaAttachment
		err  error
	)
	doErr := m.do(ctx, func(ctx context.Context) {
		if len(m.items) >= m.capacity {
			err = fmt.Errorf("%w: limit %d", domain.ErrCapacityExceeded, m.capacity)
			return
		}
		if len(req.Data) == 0 {
			err = errors.New("media: empty upload")
			return
		}
		kind := req.Kind
		if kind == "" {
			kind = domain.AttachmentKindPhoto
		}
		id := uuid.NewString()
		key := fmt.Sprintf("drafts/%s/media/%s%s", m.draftID, id, ensureExtension(req.Filename, req.MIME))
		var savedKey string
		if m.store != nil {
			savedKey, err = m.store.Write(ctx, key, req.Data)
			if err != nil {
				err = fmt.Errorf("media: store attachment: %w", err)
				return
			}
		} else {
			savedKey = key
		}
		item = domain.MediaAttachment{
			ID:         id,
			StorageKey: savedKey,
			URL:        m.publicURL(savedKey),
			MIME:       req.MIME,
			Bytes:      int64(len(req.Data)),
			Kind:       kind,
			Order:      len(m.items),
			CreatedAt:  time.Now().UTC(),
		}
		m.items = append(m.items, item)
		m.reindex()
	})
	if doErr != nil {
		return domain.MediaAttachment{}, doErr
	}
	return item, err
}

// Remove deletes the attachment and compacts the order positions of
// everything behind it. Blob deletion is best-effort.
func (m *Manager) Remove(ctx context.Context, id string) error {
	var err error
	doErr := m.do(ctx, func(ctx context.Context) {
		idx := m.indexOf(id)
		if idx < 0 {
			err = domain.ErrNotFound
			return
		}
		removed := m.items[idx]
		m.items = append(m.items[:idx], m.items[idx+1:]...)
		m.reindex()
		if m.store != nil {
			if rmErr := m.store.Remove(ctx, removed.StorageKey); rmErr != nil {
				m.logger.Warn().Err(rmErr).Str("draft_id", m.draftID).Str("attachment_id", id).Msg("media: blob removal failed")
			}
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Reorder moves the attachment to the target position by removing and
// reinserting it, then recomputes every order value. The target index is
// clamped into the valid range.
func (m *Manager) Reorder(ctx context.Context, id string, index int) ([]domain.MediaAttachment, error) {
	var (
		snapshot []domain.MediaAttachment
		err      error
	)
	doErr := m.do(ctx, func(context.Context) {
		idx := m.indexOf(id)
		if idx < 0 {
			err = domain.ErrNotFound
			return
		}
		if index < 0 {
			index = 0
		}
		if index > len(m.items)-1 {
			index = len(m.items) - 1
		}
		item := m.items[idx]
		rest := append(m.items[:idx:idx], m.items[idx+1:]...)
		m.items = append(rest[:index:index], append([]domain.MediaAttachment{item}, rest[index:]...)...)
		m.reindex()
		snapshot = m.copyItems()
	})
	if doErr != nil {
		return nil, doErr
	}
	return snapshot, err
}

// Snapshot returns a copy of the current list in order.
func (m *Manager) Snapshot(ctx context.Context) []domain.MediaAttachment {
	var snapshot []domain.MediaAttachment
	if err := m.do(ctx, func(context.Context) {
		snapshot = m.copyItems()
	}); err != nil {
		return nil
	}
	return snapshot
}

// Close rejects further mutations, waits for queued ones to finish and stops
// the worker.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.closeMu.Lock()
		m.closed = true
		m.closeMu.Unlock()
		stop := mutation{done: make(chan struct{}), stop: true}
		m.ops <- stop
		<-stop.done
	})
}

func (m *Manager) indexOf(id string) int {
	for i, item := range m.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) reindex() {
	for i := range m.items {
		m.items[i].Order = i
	}
}

func (m *Manager) copyItems() []domain.MediaAttachment {
	return append([]domain.MediaAttachment(nil), m.items...)
}

func (m *Manager) publicURL(key string) string {
	if m.baseURL == "" {
		return key
	}
	return m.baseURL + "/" + strings.TrimLeft(key, "/")
}

func ensureExtension(filename, mime string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	if ext := extensionForMIME(mime); ext != "" {
		return ext
	}
	return ".bin"
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
