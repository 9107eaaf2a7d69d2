// Package app assembles the lexicon store, the indexer and the retriever
// from configuration. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/retriever"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/retriever/cache"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store/sqlstore"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/textproc"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/sqldb"
)

const pingTimeout = 2 * time.Second

type App struct {
	Config    *config.Config
	Store     store.Store
	Redis     *pkgredis.Client
	Metrics   *metrics.Metrics
	Indexer   *indexer.Indexer
	Retriever *retriever.Retriever
	Checker   *health.Checker

	closers []func() error
}

// New opens storage, applies migrations, and wires the indexer and
// retriever. An unreachable Redis disables result caching rather than
// failing startup.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(reg),
		Checker: health.NewChecker(health.WithReadyBudget(2 * pingTimeout)),
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)
	a.Checker.Register("store", health.Ping(pingTimeout, health.StatusDown, s.Ping))

	res, err := textproc.LoadResources(cfg.Text.StopwordsFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	normalizer := textproc.NewNormalizer(res)
	slog.Info("text resources loaded", "stopwords", res.StopwordCount(), "file", cfg.Text.StopwordsFile)

	strategy, err := indexer.ParseStrategy(cfg.Indexer.Strategy)
	if err != nil {
		a.Close()
		return nil, err
	}

	retrieverOpts := []retriever.Option{
		retriever.WithThreshold(cfg.Retrieval.SimilarityThreshold),
		retriever.WithLimits(cfg.Retrieval.DefaultLimit, cfg.Retrieval.MaxResults),
		retriever.WithMetrics(a.Metrics),
	}
	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.Redis = client
			a.closers = append(a.closers, client.Close)
			a.Checker.Register("redis", health.Ping(pingTimeout, health.StatusDegraded, client.Ping))
			retrieverOpts = append(retrieverOpts, retriever.WithCache(cache.New(client, cfg.Redis.CacheTTL, pkgredis.IsNilError)))
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	a.Retriever = retriever.New(s, normalizer, retrieverOpts...)

	a.Indexer = indexer.New(s, normalizer,
		indexer.WithStrategy(strategy),
		indexer.WithMetrics(a.Metrics),
		indexer.WithOnChange(func(ctx context.Context) {
			if err := a.Retriever.InvalidateCache(ctx); err != nil {
				slog.Warn("cache invalidation after index change failed", "error", err)
			}
		}),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Driver == "memory" {
		slog.Warn("using in-memory lexicon store, the index is lost on exit")
		return memstore.New(), nil
	}
	client, err := sqldb.Open(cfg.Storage, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	s, err := sqlstore.New(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating %s schema: %w", client.Driver, err)
	}
	slog.Info("lexicon store ready", "driver", client.Driver)
	return s, nil
}

// Close releases every resource New opened, most recent first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
