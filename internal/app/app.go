// Package app builds the process-wide dependency graph from configuration.
// Both the HTTP server and the operator CLI start here.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/opportunity-scout/internal/ai"
	"github.com/david/opportunity-scout/internal/api"
	"github.com/david/opportunity-scout/internal/auth"
	"github.com/david/opportunity-scout/internal/config"
	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/ingest"
	"github.com/david/opportunity-scout/internal/notify"
	"github.com/david/opportunity-scout/internal/review"
)

type App struct {
	Config       config.Config
	Pool         *pgxpool.Pool
	Store        *db.Store
	Auth         *auth.Service
	Agents       *ingest.AgentRegistry
	Orchestrator *ingest.Orchestrator
	Review       *review.Service
	Reminders    *notify.Reminders
	Embedder     ai.Embedder
}

// New connects to Postgres, applies migrations and wires every component.
// The caller owns the returned pool and must call Close.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	agents, err := ingest.LoadAgents(cfg.AgentsFile)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	store := db.NewStore(pool)
	if n, err := store.BackfillNormalizedSourceURLs(ctx); err != nil {
		pool.Close()
		return nil, err
	} else if n > 0 {
		log.Printf("Backfilled normalized source URLs on %d rows", n)
	}

	authSvc, err := auth.NewService(pool, cfg.JWTSecret)
	if err != nil {
		pool.Close()
		return nil, err
	}

	// Leave the interface nil rather than holding a typed nil pointer.
	var embedder ai.Embedder
	if cfg.OllamaHost != "" {
		embedder = ai.NewOllamaClient(cfg.OllamaHost, cfg.EmbedModel)
		log.Printf("Embeddings from %s are stored only when %d-dimensional", cfg.EmbedModel, db.EmbeddingDimensions)
	} else {
		log.Print("OLLAMA_HOST is not set; semantic dedup and search are disabled")
	}

	email := notify.NewEmailClient(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
	extractor := ai.NewExtractor(ai.NewChatClient(cfg.ExtractionAPIURL, cfg.ExtractionAPIKey, cfg.ExtractionModel), cfg.ExtractionModel)

	orch := &ingest.Orchestrator{
		Agents:     agents,
		Sources:    store,
		Drafts:     store,
		Runs:       store,
		Fetcher:    ingest.NewHTTPFetcher(),
		Extractor:  extractor,
		Gate:       ingest.NewGate(agents.TargetRegions, agents.AggregatorHints),
		Dedup:      ingest.NewDuplicateChecker(store, embedder),
		Discoverer: ingest.NewWebDiscoverer(agents.AggregatorHints),
		Notifier: &notify.AdminAlerter{
			Sender:     email,
			Recipients: cfg.AdminAlertEmails,
			ReviewURL:  cfg.PublicBaseURL + "/admin/drafts",
		},
		Options: ingest.OptionsFromConfig(cfg),
	}

	return &App{
		Config:       cfg,
		Pool:         pool,
		Store:        store,
		Auth:         authSvc,
		Agents:       agents,
		Orchestrator: orch,
		Review:       review.NewService(store),
		Reminders: &notify.Reminders{
			Store:         store,
			Sender:        email,
			PublicBaseURL: cfg.PublicBaseURL,
		},
		Embedder: embedder,
	}, nil
}

// Server builds the HTTP server over the app's components.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Store:     a.Store,
		Auth:      a.Auth,
		Review:    a.Review,
		Scanner:   a.Orchestrator,
		Reminders: a.Reminders,
		Embedder:  a.Embedder,
	}, api.Options{
		CronSecret:  a.Config.CronSecret,
		AdminSecret: a.Config.AdminSecret,
		CORSOrigins: a.Config.CORSOrigins,
	})
}

func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
