package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/resilience"
)

// Producer is the part of *kafka.Producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher validates document requests and queues them for the indexer
// consumer. Events are keyed by URL so every update of one page lands on
// the same partition and is applied in order.
type Publisher struct {
	producer   Producer
	breaker    *resilience.CircuitBreaker
	breakerCfg resilience.CircuitBreakerConfig
	retry      resilience.RetryConfig
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *slog.Logger
}

type PublisherOption func(*Publisher)

func WithRetry(cfg resilience.RetryConfig) PublisherOption {
	return func(p *Publisher) { p.retry = cfg }
}

func WithBreaker(cfg resilience.CircuitBreakerConfig) PublisherOption {
	return func(p *Publisher) { p.breakerCfg = cfg }
}

func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

const breakerName = "index-queue"

func NewPublisher(producer Producer, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		producer: producer,
		now:      time.Now,
		logger:   logger.WithComponent("publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	cfg := p.breakerCfg
	if m := p.metrics; m != nil {
		m.PublisherCircuitState.WithLabelValues(breakerName).Set(float64(resilience.StateClosed))
		next := cfg.OnStateChange
		cfg.OnStateChange = func(name string, from, to resilience.State) {
			m.PublisherCircuitState.WithLabelValues(name).Set(float64(to))
			if next != nil {
				next(name, from, to)
			}
		}
	}
	p.breaker = resilience.NewCircuitBreaker(breakerName, cfg)
	return p
}

// Publish validates req and writes it to the queue, retrying transient
// broker errors behind a circuit breaker. An open circuit or exhausted
// retries surface as ErrUnavailable.
func (p *Publisher) Publish(ctx context.Context, req DocumentRequest) (Accepted, error) {
	if err := ValidateDocumentRequest(&req); err != nil {
		p.count("rejected")
		return Accepted{}, err
	}
	requestID := logger.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	event := IndexEvent{
		RequestID:    requestID,
		IndexRequest: req.IndexRequest(),
		QueuedAt:     p.now().UTC(),
	}

	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, "publish index request", p.retry, func(ctx context.Context) error {
			return p.producer.Publish(ctx, kafka.Event{Key: event.URL, Value: event})
		})
	})
	if err != nil {
		p.count("failed")
		logger.FromContext(ctx).Error("failed to queue index request", "url", event.URL, "error", err)
		if ctx.Err() != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			return Accepted{}, err
		}
		return Accepted{}, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "index queue unavailable, retry later")
	}
	p.count("queued")
	p.logger.Debug("index request queued", "request_id", requestID, "url", event.URL)
	return Accepted{RequestID: requestID, URL: event.URL, Status: "queued"}, nil
}

func (p *Publisher) count(status string) {
	if p.metrics != nil {
		p.metrics.PublishedTotal.WithLabelValues(status).Inc()
	}
}
