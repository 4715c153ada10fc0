package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/solace/backend/internal/analysis/risk"
	"github.com/zhouzirui/solace/backend/internal/config"
	"github.com/zhouzirui/solace/backend/internal/handler"
	"github.com/zhouzirui/solace/backend/internal/observability"
	"github.com/zhouzirui/solace/backend/internal/service/ai"
	"github.com/zhouzirui/solace/backend/internal/service/chat"
	"github.com/zhouzirui/solace/backend/internal/service/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create logger")
	}
	log.Logger = logger

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file loaded, using system environment only")
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	safety, err := config.LoadSafety(cfg.Safety.File)
	if err != nil {
		return fmt.Errorf("load safety configuration: %w", err)
	}
	logger.Info().
		Str("version", safety.Version).
		Str("crisis_resources_version", safety.CrisisResources.Version).
		Int("crisis_terms", len(safety.CrisisTerms)).
		Int("distress_terms", len(safety.DistressTerms)).
		Msg("safety configuration loaded")

	backend, err := ai.NewBackend(ctx, cfg.AI, observability.Component(logger, "ai"))
	if err != nil {
		return fmt.Errorf("initialize %s backend: %w", cfg.AI.Backend, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close backend")
		}
	}()
	logger.Info().Str("backend", backend.Name()).Msg("generation backend initialized")

	store, err := newStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("conversation store initialized")

	p, err := pipeline.New(pipeline.Deps{
		Classifier: risk.NewClassifier(risk.Terms{
			Crisis:   safety.CrisisTerms,
			Distress: safety.DistressTerms,
		}),
		Sentiment:       risk.NewSentimentAnalyzer(safety.PositiveWords, safety.NegativeWords),
		Prompts:         ai.NewPromptBuilder(cfg.AI.MaxTokens, cfg.AI.Temperature, cfg.AI.WordLimit),
		Backend:         backend,
		Sanitizer:       ai.NewSanitizer(),
		Store:           store,
		CrisisResources: safety.CrisisResources.Text,
		Logger:          logger,
		Metrics:         observability.Prometheus{},
	})
	if err != nil {
		return err
	}

	router := handler.NewRouter(p, backend, observability.Component(logger, "http"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", cfg.Server.Addr).Msg("solace backend listening")
	return runServer(ctx, srv)
}

type closableStore interface {
	chat.Store
	Close() error
}

func newStore(cfg config.StoreConfig) (closableStore, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return chat.NewMemoryStore(), nil
	case config.StoreSQLite:
		store, err := chat.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
