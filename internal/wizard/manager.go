package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"server/internal/assist"
	"server/internal/domain"
	"server/internal/draft"
	"server/internal/infra"
	"server/internal/media"
	"server/internal/providers/copy"
	"server/internal/providers/crm"
	"server/internal/storage"
)

// ManagerOptions wires the shared collaborators every session gets a slice
// of.
type ManagerOptions struct {
	Registry      *Registry
	Repo          domain.DraftRepository
	Store         storage.BlobStore
	Submitter     crm.Submitter
	Generator     copy.Generator
	Logger        infra.Logger
	AssistTimeout time.Duration
	DraftDebounce time.Duration
	MediaCapacity int
	MediaBaseURL  string
	IdleTTL       time.Duration
}

// Manager keeps the live controllers keyed by draft id. A session is created
// fresh on flow entry or rebuilt from its persisted draft; restores for the
// same draft are deduplicated so concurrent requests share one repository
// read and one controller.
type Manager struct {
	opts  ManagerOptions
	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Controller
}

const defaultIdleTTL = 30 * time.Minute

func NewManager(opts ManagerOptions) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	return &Manager{
		opts:     opts,
		sessions: map[string]*Controller{},
	}
}

// Create starts a fresh session for the flow and registers its controller.
func (m *Manager) Create(ctx context.Context, flowID string) (*Controller, error) {
	flow, err := m.opts.Registry.Lookup(flowID)
	if err != nil {
		return nil, err
	}
	draftID := uuid.NewString()
	session := domain.NewSession(draftID, flow.ID, flow.Steps, time.Now().UTC())
	ctrl := m.build(flow, session, nil)

	m.mu.Lock()
	m.sessions[draftID] = ctrl
	m.mu.Unlock()

	m.opts.Logger.Info().Str("draft_id", draftID).Str("flow", flow.ID).Msg("wizard: session created")
	return ctrl, nil
}

// Get returns the live controller for the draft id, restoring it from the
// draft repository when it is not resident. Restoration happens before the
// caller renders anything, so the user resumes exactly where they left off.
func (m *Manager) Get(ctx context.Context, draftID string) (*Controller, error) {
	m.mu.Lock()
	if ctrl, ok := m.sessions[draftID]; ok {
		m.mu.Unlock()
		return ctrl, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(draftID, func() (any, error) {
		m.mu.Lock()
		if ctrl, ok := m.sessions[draftID]; ok {
			m.mu.Unlock()
			return ctrl, nil
		}
		m.mu.Unlock()

		record, err := m.opts.Repo.Get(ctx, draftID)
		if err != nil {
			return nil, err
		}
		ctrl, err := m.restore(record)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.sessions[draftID] = ctrl
		m.mu.Unlock()
		return ctrl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

// Remove evicts and closes one controller. Pending draft writes are flushed
// unless the session was submitted, in which case the saver was already
// discarded.
func (m *Manager) Remove(ctx context.Context, draftID string) {
	m.mu.Lock()
	ctrl, ok := m.sessions[draftID]
	delete(m.sessions, draftID)
	m.mu.Unlock()
	if ok {
		ctrl.Close(ctx)
	}
}

// Discard permanently abandons a draft. The live controller is closed, the
// draft row is deleted and any uploaded blobs are removed.
func (m *Manager) Discard(ctx context.Context, draftID string) error {
	m.mu.Lock()
	ctrl, ok := m.sessions[draftID]
	delete(m.sessions, draftID)
	m.mu.Unlock()

	var attachments []domain.MediaAttachment
	if ok {
		attachments = ctrl.View().Attachments
		ctrl.Close(ctx)
	} else if m.opts.Repo != nil {
		record, err := m.opts.Repo.Get(ctx, draftID)
		switch {
		case err == nil:
			attachments = record.Attachments
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	if m.opts.Repo != nil {
		if err := m.opts.Repo.Delete(ctx, draftID); err != nil {
			return err
		}
	}
	if m.opts.Store != nil {
		for _, att := range attachments {
			if err := m.opts.Store.Remove(ctx, att.StorageKey); err != nil {
				m.opts.Logger.Warn().Err(err).Str("key", att.StorageKey).Msg("wizard: discard blob cleanup failed")
			}
		}
	}
	m.opts.Logger.Info().Str("draft_id", draftID).Msg("wizard: draft discarded")
	return nil
}

// EvictIdle closes every controller that has been quiet since the cutoff and
// returns how many were evicted. Draft rows survive eviction; the next Get
// restores them.
func (m *Manager) EvictIdle(ctx context.Context, cutoff time.Time) int {
	m.mu.Lock()
	var idle []*Controller
	for draftID, ctrl := range m.sessions {
		if ctrl.LastActive().Before(cutoff) {
			idle = append(idle, ctrl)
			delete(m.sessions, draftID)
		}
	}
	m.mu.Unlock()

	for _, ctrl := range idle {
		ctrl.Close(ctx)
	}
	if len(idle) > 0 {
		m.opts.Logger.Info().Int("count", len(idle)).Msg("wizard: idle sessions evicted")
	}
	return len(idle)
}

// IdleTTL returns the configured idle window.
func (m *Manager) IdleTTL() time.Duration {
	return m.opts.IdleTTL
}

// Len reports the number of resident sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown flushes and closes every resident controller.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Controller, 0, len(m.sessions))
	for _, ctrl := range m.sessions {
		all = append(all, ctrl)
	}
	m.sessions = map[string]*Controller{}
	m.mu.Unlock()

	for _, ctrl := range all {
		ctrl.Close(ctx)
	}
}

func (m *Manager) build(flow Flow, session *domain.WizardSession, attachments []domain.MediaAttachment) *Controller {
	logger := m.opts.Logger.With().Str("draft_id", session.DraftID).Logger()

	var saver *draft.Saver
	if m.opts.Repo != nil {
		saver = draft.NewSaver(m.opts.Repo, m.opts.DraftDebounce, logger)
	}
	var adapter *assist.Adapter
	if m.opts.Generator != nil {
		adapter = assist.New(m.opts.Generator, m.opts.AssistTimeout, logger)
	}
	var mediaMgr *media.Manager
	if flowHasMediaStep(flow) {
		mediaMgr = media.NewManager(media.Options{
			DraftID:  session.DraftID,
			Store:    m.opts.Store,
			BaseURL:  m.opts.MediaBaseURL,
			Capacity: m.opts.MediaCapacity,
			Logger:   logger,
			Initial:  attachments,
		})
		attachments = mediaMgr.Snapshot(context.Background())
	}

	return NewController(ControllerOptions{
		Session:     session,
		Flow:        flow,
		Repo:        m.opts.Repo,
		Saver:       saver,
		Assist:      adapter,
		Media:       mediaMgr,
		Submitter:   m.opts.Submitter,
		Logger:      logger,
		Attachments: attachments,
	})
}

// restore rebuilds a session from its persisted draft. Indexes outside the
// flow's bounds are clamped rather than rejected, so older drafts survive
// flow changes. A draft caught mid-submission comes back as submit_failed:
// the outcome of that attempt is unknown and the user decides whether to
// retry.
func (m *Manager) restore(record *domain.DraftRecord) (*Controller, error) {
	flow, err := m.opts.Registry.Lookup(record.FlowID)
	if err != nil {
		return nil, fmt.Errorf("restore draft %s: %w", record.DraftID, err)
	}

	session := domain.NewSession(record.DraftID, flow.ID, flow.Steps, time.Now().UTC())
	if record.Form != nil {
		session.Form = record.Form.Clone()
	}
	for _, idx := range record.Completed {
		if idx >= 0 && idx < len(flow.Steps) {
			session.MarkCompleted(idx)
		}
	}
	index := record.Index
	if index < 0 {
		index = 0
	}
	if index > len(flow.Steps)-1 {
		index = len(flow.Steps) - 1
	}
	if index > session.MaxCompletedIndex()+1 {
		index = session.MaxCompletedIndex() + 1
	}
	session.CurrentIndex = index

	switch record.Status {
	case domain.SessionStatusSubmitting:
		session.Status = domain.SessionStatusSubmitFailed
	case "":
		session.Status = domain.SessionStatusDraft
	default:
		session.Status = record.Status
	}

	m.opts.Logger.Info().Str("draft_id", record.DraftID).Str("flow", flow.ID).Int("step", index).Msg("wizard: session restored")
	return m.build(flow, session, record.Attachments), nil
}

func flowHasMediaStep(flow Flow) bool {
	for _, step := range flow.Steps {
		if step.Kind == domain.StepKindMedia {
			return true
		}
	}
	return false
}
