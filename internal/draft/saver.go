package draft

import (
	"context"
	"sync"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

const saveTimeout = 5 * time.Second

// Saver coalesces session snapshots into debounced repository writes. The
// controller hands it a fresh snapshot on every change; only the newest one
// is written once the quiet interval elapses. Failed writes keep the snapshot
// and retry on the next tick, so persistence never blocks or breaks the
// wizard itself.
type Saver struct {
	repo   domain.DraftRepository
	delay  time.Duration
	logger infra.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending *domain.DraftRecord
	closed  bool
}

// NewSaver builds a saver for one session.
func NewSaver(repo domain.DraftRepository, delay time.Duration, logger infra.Logger) *Saver {
	if delay <= 0 {
		delay = 400 * time.Millisecond
	}
	return &Saver{repo: repo, delay: delay, logger: logger}
}

// Schedule records the snapshot as the pending write and restarts the quiet
// interval. It returns immediately.
func (s *Saver) Schedule(record *domain.DraftRecord) {
	if record == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = record
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.fire)
		return
	}
	s.timer.Reset(s.delay)
}

func (s *Saver) fire() {
	s.mu.Lock()
	record := s.pending
	if record == nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	err := s.repo.Save(ctx, record)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Str("draft_id", record.DraftID).Msg("draft: save failed, retrying next tick")
		if !s.closed && s.timer != nil {
			s.timer.Reset(s.delay)
		}
		return
	}
	s.logger.Debug().Str("draft_id", record.DraftID).Msg("draft: saved")
	if s.pending == record {
		s.pending = nil
	}
}

// Discard drops the pending snapshot without writing it. Used when the
// session reaches a terminal state and the draft row is deleted outright.
func (s *Saver) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Flush writes the pending snapshot now, if any. On failure the snapshot is
// kept for the next tick and the error is returned to the caller.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	record := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	if record == nil {
		return nil
	}
	if err := s.repo.Save(ctx, record); err != nil {
		s.mu.Lock()
		if s.pending == nil && !s.closed {
			s.pending = record
			if s.timer != nil {
				s.timer.Reset(s.delay)
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close flushes best-effort and stops the timer for good.
func (s *Saver) Close(ctx context.Context) {
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("draft: final flush failed")
	}
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}
