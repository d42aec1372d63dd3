package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/infra/geoip"
	"server/internal/providers/copy"
	"server/internal/providers/crm"
	"server/internal/storage"
	"server/internal/wizard"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	// Konfigurasi & logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// DB pool (pgxpool)
	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	draftRepo := repo.NewDraftRepository(runner)

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	// Kunci provider: env dulu, lalu integration_tokens
	credStore := credentials.NewStore(runner)
	geminiKey := resolveKey(ctx, cfg.GeminiAPIKey, credStore.GeminiAPIKey, logger, "gemini")
	listingKey := resolveKey(ctx, cfg.ListingAPIKey, credStore.ListingAPIKey, logger, "listing")

	generator := buildGenerator(cfg, geminiKey, logger)

	submitter, err := crm.NewClient(crm.Options{
		BaseURL: cfg.ListingAPIBaseURL,
		APIKey:  listingKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure listing client")
	}

	registry := wizard.DefaultRegistry()
	sessions := wizard.NewManager(wizard.ManagerOptions{
		Registry:      registry,
		Repo:          draftRepo,
		Store:         store,
		Submitter:     submitter,
		Generator:     generator,
		Logger:        logger,
		AssistTimeout: cfg.AssistTimeout,
		DraftDebounce: cfg.DraftDebounce,
		MediaCapacity: cfg.MediaMaxItems,
		MediaBaseURL:  cfg.StorageBaseURL,
		IdleTTL:       cfg.SessionIdleTTL,
	})

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip resolver disabled")
	}

	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		SQL:       runner,
		Sessions:  sessions,
		Registry:  registry,
		Store:     store,
		GeoIP:     resolver,
		JWTSecret: cfg.JWTSecret,
	}

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	// Sesi idle dibersihkan berkala; draft-nya tetap aman di database.
	evictCtx, stopEvict := context.WithCancel(ctx)
	go evictLoop(evictCtx, sessions)

	// Start async
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopEvict()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	sessions.Shutdown(shutdownCtx)
	logger.Info().Msg("server stopped")
}

func resolveKey(ctx context.Context, fromEnv string, fromStore func(context.Context) (string, error), logger infra.Logger, name string) string {
	key := strings.TrimSpace(fromEnv)
	if key != "" {
		return key
	}
	stored, err := fromStore(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("provider", name).Msg("failed to load api key from store")
		return ""
	}
	return stored
}

func buildGenerator(cfg *infra.Config, geminiKey string, logger infra.Logger) copy.Generator {
	if strings.EqualFold(cfg.AssistProvider, "static") {
		return copy.NewStaticGenerator()
	}
	gen, err := copy.NewGeminiGenerator(copy.GeminiOptions{
		APIKey:   geminiKey,
		BaseURL:  cfg.GeminiBaseURL,
		Model:    cfg.GeminiModel,
		Fallback: copy.NewStaticGenerator(),
		OnFallback: func(reason string, err error) {
			logger.Warn().Err(err).Str("reason", reason).Msg("assist fell back to static copy")
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("gemini generator unavailable, serving static copy")
		return copy.NewStaticGenerator()
	}
	return gen
}

func evictLoop(ctx context.Context, sessions *wizard.Manager) {
	interval := sessions.IdleTTL() / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.EvictIdle(ctx, time.Now().Add(-sessions.IdleTTL()))
		}
	}
}
