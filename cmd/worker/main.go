package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/storage"
)

const (
	sweepInterval = 10 * time.Minute
	sweepBatch    = 100
)

// draftSweeper purges abandoned wizard drafts once their idle TTL runs out,
// blobs first, then the row. Drafts the API is still touching keep a fresh
// updated_at and never land in the expired batch.
type draftSweeper struct {
	ctx    context.Context
	repo   domain.DraftRepository
	store  *storage.FileStore
	logger infra.Logger
	ttl    time.Duration
}

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath = "./storage"
	}
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to configure storage")
	}

	sweeper := &draftSweeper{
		ctx:    ctx,
		repo:   repo.NewDraftRepository(runner),
		store:  fileStore,
		logger: logger,
		ttl:    cfg.DraftTTL,
	}

	if err := sweeper.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("sweeper: stopped with error")
	}
	logger.Info().Msg("sweeper: stopped")
}

func (w *draftSweeper) Run() error {
	w.logger.Info().Dur("ttl", w.ttl).Msg("sweeper: started")
	w.sweep()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep drains expired drafts in batches until the backlog is gone. The
// cutoff is fixed once per pass so a slow drain cannot chase its own tail.
func (w *draftSweeper) sweep() {
	cutoff := time.Now().Add(-w.ttl)
	for {
		records, err := w.repo.ListExpired(w.ctx, cutoff, sweepBatch)
		if err != nil {
			w.logger.Error().Err(err).Msg("sweeper: list expired drafts failed")
			return
		}
		if len(records) == 0 {
			return
		}
		for _, record := range records {
			select {
			case <-w.ctx.Done():
				return
			default:
			}
			w.purge(record)
		}
		if len(records) < sweepBatch {
			return
		}
	}
}

func (w *draftSweeper) purge(record *domain.DraftRecord) {
	for _, attachment := range record.Attachments {
		if attachment.StorageKey == "" {
			continue
		}
		if err := w.store.Remove(w.ctx, attachment.StorageKey); err != nil {
			w.logger.Warn().Err(err).
				Str("draft_id", record.DraftID).
				Str("storage_key", attachment.StorageKey).
				Msg("sweeper: blob cleanup failed")
		}
	}
	if err := w.repo.Delete(w.ctx, record.DraftID); err != nil {
		w.logger.Error().Err(err).Str("draft_id", record.DraftID).Msg("sweeper: delete draft failed")
		return
	}
	w.logger.Info().
		Str("draft_id", record.DraftID).
		Time("updated_at", record.UpdatedAt).
		Msg("sweeper: purged expired draft")
}
