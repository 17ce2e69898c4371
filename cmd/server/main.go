// Command server is the process entry point: it loads configuration, brings
// up the Postgres/Qdrant/Redis backends, applies pending migrations, and
// wires the escalation/FAQ/dispatch stack together. HTTP route handlers and
// the LLM/embedding provider clients are treated as external collaborators
// behind narrow interfaces and are intentionally not constructed here --
// whatever deployment embeds this module supplies concrete
// rag.LLMClient/rag.Embedder implementations and starts the channel
// transports (webhook servers, the Matrix sync loop) that feed
// channel.Registry. This file owns only the ambient process lifecycle, the
// way the teacher's main.go owned only the HTTP server lifecycle.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/config"
	"github.com/connexus-ai/ragbox-support-gateway/internal/dispatch"
	"github.com/connexus-ai/ragbox-support-gateway/internal/escalation"
	"github.com/connexus-ai/ragbox-support-gateway/internal/faq"
	"github.com/connexus-ai/ragbox-support-gateway/internal/index"
	"github.com/connexus-ai/ragbox-support-gateway/internal/learning"
	"github.com/connexus-ai/ragbox-support-gateway/internal/metrics"
	"github.com/connexus-ai/ragbox-support-gateway/internal/retrieval"
	"github.com/connexus-ai/ragbox-support-gateway/internal/tokenizer"
	"github.com/connexus-ai/ragbox-support-gateway/migrations"
)

const Version = "0.1.0"

// deps holds every backend this process brings up. Constructed by build(),
// torn down in reverse order by close().
type deps struct {
	pool          *pgxpool.Pool
	redis         *redis.Client
	qdrantAdmin   *index.QdrantStore
	qdrantQuery   *retrieval.QdrantSearcher
	fallbackStore *retrieval.PostgresDenseStore

	tokenizer  *tokenizer.Tokenizer
	metrics    *metrics.Metrics
	escalation *escalation.Service
	faq        *faq.FAQService
	dispatcher *dispatch.Dispatcher
	channels   *channel.Registry
}

func build(ctx context.Context, cfg *config.Config) (*deps, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := migrations.Run(ctx, cfg.DatabaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	qdrantAdmin, err := index.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort, "")
	if err != nil {
		pool.Close()
		redisClient.Close()
		return nil, fmt.Errorf("connect qdrant (admin): %w", err)
	}
	qdrantQuery, err := retrieval.NewQdrantSearcher(cfg.QdrantHost, cfg.QdrantPort, "", cfg.QdrantCollection)
	if err != nil {
		pool.Close()
		redisClient.Close()
		qdrantAdmin.Close()
		return nil, fmt.Errorf("connect qdrant (query): %w", err)
	}

	// Fallback store for ResilientRetriever's dense-only secondary path when
	// Qdrant is unreachable. Assembling the ResilientRetriever itself still
	// needs the deployment-supplied rag.Embedder, same boundary as the
	// primary HybridRetriever below.
	fallbackStore := retrieval.NewPostgresDenseStore(pool)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	escalationStore := escalation.NewPostgresStore(pool)
	learningStore := learning.NewPostgresStore(pool)
	learningSink := learning.NewSink(learningStore)
	faqStore := faq.NewPostgresStore(pool)

	channels := channel.NewRegistry(cfg.PluginStartTimeout)
	faqService := faq.New(faqStore, nil) // index rebuild wiring is a deployment concern: it needs the
	// full document corpus (wiki + extra sources + verified FAQs), which is
	// assembled outside this repo and fed to index.Manager.RebuildIndex.

	escalationService := escalation.NewService(escalationStore, learningSink, faqService, channels, m, cfg.EscalationClaimTTL)

	dispatcher := dispatch.New(escalationService)
	dispatcher.SetMetrics(m)

	// Constructed empty: no vocabulary is loaded into it here. Handed to
	// retrieval.NewHybridRetriever by whatever wires in
	// the LLM/embedding provider, alongside qdrantQuery as the dense/sparse
	// searchers.
	tok := tokenizer.New()

	return &deps{
		pool:          pool,
		redis:         redisClient,
		qdrantAdmin:   qdrantAdmin,
		qdrantQuery:   qdrantQuery,
		fallbackStore: fallbackStore,
		tokenizer:     tok,
		metrics:       m,
		escalation:    escalationService,
		faq:           faqService,
		dispatcher:    dispatcher,
		channels:      channels,
	}, nil
}

func (d *deps) close(ctx context.Context) {
	for _, err := range d.channels.Shutdown(ctx) {
		slog.Error("channel shutdown error", "error", err)
	}
	if err := d.qdrantQuery.Close(); err != nil {
		slog.Error("qdrant query client close error", "error", err)
	}
	if err := d.qdrantAdmin.Close(); err != nil {
		slog.Error("qdrant admin client close error", "error", err)
	}
	if err := d.redis.Close(); err != nil {
		slog.Error("redis close error", "error", err)
	}
	d.pool.Close()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	d, err := build(ctx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}

	slog.Info("ragbox-support-gateway starting", "version", Version, "environment", cfg.Environment)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), cfg.PluginStartTimeout)
	for _, err := range d.channels.Startup(startupCtx, true) {
		slog.Error("channel startup error", "error", err)
	}
	startupCancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("received signal, shutting down gracefully", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	d.close(shutdownCtx)

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}
