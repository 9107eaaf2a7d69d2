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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/app"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
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
		slog.Error("indexer exited", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer stopped")
}

func run(cfg *config.Config) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is empty, nothing to consume")
	}
	if cfg.Storage.Driver == "memory" {
		return errors.New("the indexer worker needs a shared store, memory is process-local")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := consumer.HandleMessage(a.Indexer, cfg.Indexer.MessageTimeout, a.Metrics)
	ic := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexRequests, handler))
	slog.Info("indexer ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.IndexRequests,
		"group", cfg.Kafka.ConsumerGroup,
		"strategy", cfg.Indexer.Strategy,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ic.Start(gctx) })

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
