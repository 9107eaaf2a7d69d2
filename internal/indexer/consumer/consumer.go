// Package consumer reads queued index requests from Kafka and applies them
// through the indexer.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/ingest"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/resilience"
)

// Indexer is the part of *indexer.Indexer the consumer drives.
type Indexer interface {
	Index(ctx context.Context, req indexer.IndexRequest) (indexer.Result, error)
}

// Starter is a consume loop, normally *kafka.Consumer.
type Starter interface {
	Start(ctx context.Context) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer Starter
	logger   *slog.Logger
}

func New(c Starter) *IndexConsumer {
	return &IndexConsumer{
		consumer: c,
		logger:   logger.WithComponent("index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that indexes each queued event
// under timeout. Undecodable payloads and requests the indexer rejects as
// invalid are logged and committed; any other failure is returned, and the
// consumer hands the same message back after a backoff without committing
// anything past it.
func HandleMessage(ix Indexer, timeout time.Duration, m *metrics.Metrics) kafka.MessageHandler {
	log := logger.WithComponent("index-consumer")
	count := func(outcome string) {
		if m != nil {
			m.ConsumedTotal.WithLabelValues(outcome).Inc()
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingest.IndexEvent](value)
		if err != nil {
			log.Error("failed to decode index event", "error", err, "key", string(key))
			count("skipped")
			return nil
		}
		if event.RequestID != "" {
			ctx = logger.WithRequestID(ctx, event.RequestID)
		}
		l := logger.FromContext(ctx).With("component", "index-consumer", "url", event.URL)
		l.Debug("processing index event", "queued_at", event.QueuedAt, "tokens", len(event.Tokens))

		var result indexer.Result
		err = resilience.WithTimeout(ctx, timeout, "index "+event.URL, func(ctx context.Context) error {
			var err error
			result, err = ix.Index(ctx, event.IndexRequest)
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrValidation):
			l.Warn("dropping invalid index event", "error", err)
			count("skipped")
			return nil
		default:
			count("failed")
			return fmt.Errorf("indexing %s: %w", event.URL, err)
		}

		count("indexed")
		l.Info("document indexed",
			"doc_id", result.DocumentID,
			"created", result.Created,
			"terms", result.Terms,
			"lag", time.Since(event.QueuedAt).Round(time.Millisecond),
		)
		return nil
	}
}
