package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/api"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/app"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting lexisearch server",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"strategy", cfg.Indexer.Strategy,
		"threshold", cfg.Retrieval.SimilarityThreshold,
	)
	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	var queue api.Queue
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexRequests)
		defer producer.Close()
		queue = ingest.NewPublisher(producer, ingest.WithPublisherMetrics(a.Metrics))
		slog.Info("asynchronous indexing enabled", "topic", cfg.Kafka.Topics.IndexRequests, "brokers", cfg.Kafka.Brokers)
	}

	g, gctx := errgroup.WithContext(ctx)

	routerOpts := api.RouterOptions{
		Checker:        a.Checker,
		Metrics:        a.Metrics,
		MetricsHandler: metrics.Handler(),
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if cfg.Server.RateLimit > 0 {
		limiter := pkgmw.NewLimiter(cfg.Server.RateLimit, time.Minute)
		routerOpts.Limiter = limiter
		g.Go(func() error {
			limiter.RunCleanup(gctx)
			return nil
		})
	}

	h := api.NewHandler(a.Indexer, a.Retriever, a.Store, queue)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, routerOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
