// File: internal/service/initializers.go
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/config"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/llmclient"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/store"
)

// InitializeStore opens the pattern store selected by memory.backend. The
// returned cleanup function is never nil.
func InitializeStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.PatternStore, func(), error) {
	noop := func() {}
	switch cfg.Memory.Backend {
	case config.BackendInMemory, "":
		logger.Warn("No persistent pattern store configured; learned patterns will be lost on exit.")
		return store.NewInMemory(), noop, nil

	case config.BackendPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, noop, fmt.Errorf("unable to parse PGX pool config: %w", err)
		}
		poolConfig.MaxConns = 10
		poolConfig.MinConns = 1
		poolConfig.MaxConnLifetime = 1 * time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, noop, fmt.Errorf("unable to create PGX connection pool: %w", err)
		}
		pg, err := store.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Info("Using PostgreSQL pattern store.", zap.String("host", poolConfig.ConnConfig.Host))
		return pg, pool.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Memory.Redis.Addr,
			Password: cfg.Memory.Redis.Password,
			DB:       cfg.Memory.Redis.DB,
		})
		rs, err := store.NewRedis(ctx, client, cfg.Memory.Redis.KeyPrefix, logger)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		logger.Info("Using Redis pattern store.", zap.String("addr", cfg.Memory.Redis.Addr))
		return rs, func() { _ = client.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unsupported pattern store backend: %s", cfg.Memory.Backend)
}

// InitializeLLMClient creates the tier-routed LLM client described by cfg.
func InitializeLLMClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeLexicon loads the keyword tables from path, or the built-in
// tables when path is empty.
func InitializeLexicon(path string) (*lexicon.Lexicon, error) {
	if path == "" {
		return lexicon.Default(), nil
	}
	lex, err := lexicon.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load lexicon %s: %w", path, err)
	}
	return lex, nil
}

// StartMetricsServer serves gatherer on addr in the background.
func StartMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(gatherer))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics.", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped.", zap.Error(err))
		}
	}()
	return srv
}
