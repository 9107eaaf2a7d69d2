package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/resilience"
)

func validRequest() DocumentRequest {
	return DocumentRequest{
		URL:      "https://example.com/fruit",
		Title:    "Fruit",
		FullText: "apple apple banana",
	}
}

func TestValidateDocumentRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DocumentRequest)
		field  string
	}{
		{"missing url", func(r *DocumentRequest) { r.URL = " " }, "url"},
		{"relative url", func(r *DocumentRequest) { r.URL = "/fruit" }, "url"},
		{"ftp url", func(r *DocumentRequest) { r.URL = "ftp://example.com/f" }, "url"},
		{"long url", func(r *DocumentRequest) { r.URL = "https://e.com/" + strings.Repeat("a", maxURLLength) }, "url"},
		{"missing title", func(r *DocumentRequest) { r.Title = "" }, "title"},
		{"long title", func(r *DocumentRequest) { r.Title = strings.Repeat("t", maxTitleLength+1) }, "title"},
		{"blank text", func(r *DocumentRequest) { r.FullText = "\n\t" }, "full_text"},
		{"huge text", func(r *DocumentRequest) { r.FullText = strings.Repeat("a", maxTextLength+1) }, "full_text"},
		{"too many tokens", func(r *DocumentRequest) { r.Tokens = make([]string, maxTokens+1) }, "tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := ValidateDocumentRequest(&req)
			require.ErrorIs(t, err, apperrors.ErrValidation)
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
			assert.Len(t, verr.Fields, 1)
		})
	}

	req := validRequest()
	assert.NoError(t, ValidateDocumentRequest(&req))
}

func TestIndexRequestDefaultsTokensToText(t *testing.T) {
	req := DocumentRequest{URL: " http://a/ ", Title: " A ", FullText: "Apple  banana\ncherry"}
	ir := req.IndexRequest()
	assert.Equal(t, []string{"Apple", "banana", "cherry"}, ir.Tokens)
	assert.Equal(t, "http://a/", ir.URL)
	assert.Equal(t, "A", ir.Title)

	req.Tokens = []string{"kiwi"}
	assert.Equal(t, []string{"kiwi"}, req.IndexRequest().Tokens)
}

func TestIndexEventJSONInlinesRequest(t *testing.T) {
	ev := IndexEvent{
		RequestID:    "r1",
		IndexRequest: validRequest().IndexRequest(),
		QueuedAt:     time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"request_id": "r1",
		"url": "https://example.com/fruit",
		"title": "Fruit",
		"full_text": "apple apple banana",
		"tokens": ["apple", "apple", "banana"],
		"queued_at": "2026-10-01T12:00:00Z"
	}`, string(data))

	decoded, err := kafka.DecodeJSON[IndexEvent](data)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

type fakeProducer struct {
	mu     sync.Mutex
	events []kafka.Event
	errs   []error
}

func (p *fakeProducer) Publish(_ context.Context, event kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return err
		}
	}
	p.events = append(p.events, event)
	return nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestPublishQueuesEventKeyedByURL(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	producer := &fakeProducer{}
	p := NewPublisher(producer, WithRetry(fastRetry()), WithPublisherMetrics(m))
	p.now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }

	ctx := logger.WithRequestID(context.Background(), "req-7")
	accepted, err := p.Publish(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, Accepted{RequestID: "req-7", URL: "https://example.com/fruit", Status: "queued"}, accepted)

	require.Len(t, producer.events, 1)
	assert.Equal(t, "https://example.com/fruit", producer.events[0].Key)
	ev, ok := producer.events[0].Value.(IndexEvent)
	require.True(t, ok)
	assert.Equal(t, "req-7", ev.RequestID)
	assert.Equal(t, []string{"apple", "apple", "banana"}, ev.Tokens)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedTotal.WithLabelValues("queued")))
}

func TestPublishGeneratesRequestID(t *testing.T) {
	p := NewPublisher(&fakeProducer{}, WithRetry(fastRetry()))
	accepted, err := p.Publish(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Len(t, accepted.RequestID, 36)
}

func TestPublishRejectsInvalidRequest(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	producer := &fakeProducer{}
	p := NewPublisher(producer, WithPublisherMetrics(m))

	_, err := p.Publish(context.Background(), DocumentRequest{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, producer.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedTotal.WithLabelValues("rejected")))
}

func TestPublishRetriesTransientErrors(t *testing.T) {
	producer := &fakeProducer{errs: []error{errors.New("leader moved"), nil}}
	p := NewPublisher(producer, WithRetry(fastRetry()))

	_, err := p.Publish(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Len(t, producer.events, 1)
}

func TestPublishFailureHidesBrokerDetail(t *testing.T) {
	dial := errors.New("dial tcp 10.0.4.17:9092: connect: connection refused")
	producer := &fakeProducer{errs: []error{dial, dial, dial}}
	p := NewPublisher(producer, WithRetry(fastRetry()))

	_, err := p.Publish(context.Background(), validRequest())
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "index queue unavailable, retry later", appErr.Message)
	assert.NotContains(t, err.Error(), "10.0.4.17")
}

func TestPublishOpensCircuitAfterRepeatedFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	down := errors.New("no brokers")
	producer := &fakeProducer{errs: []error{down, down, down, down}}
	p := NewPublisher(producer,
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		WithBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}),
		WithPublisherMetrics(m),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Publish(ctx, validRequest())
		require.ErrorIs(t, err, apperrors.ErrUnavailable)
		assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))
	}
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.PublisherCircuitState.WithLabelValues(breakerName)))

	_, err := p.Publish(ctx, validRequest())
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Contains(t, err.Error(), "retry later")
	assert.Empty(t, producer.events)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PublishedTotal.WithLabelValues("failed")))
}
