package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/resilience"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
	drained   func()
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	drained := r.drained
	r.drained = nil
	r.mu.Unlock()
	if drained != nil {
		drained()
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func fastHandlerRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: -1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestConsumerRedeliversFailedMessageBeforeMovingOn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		queue: []kafka.Message{
			{Offset: 1, Key: []byte("a"), Value: []byte("ok")},
			{Offset: 2, Key: []byte("b"), Value: []byte("flaky")},
			{Offset: 3, Key: []byte("c"), Value: []byte("ok")},
		},
		fetchErrs: []error{errors.New("leader not available")},
		drained:   cancel,
	}
	var seen []string
	failures := 2
	c := newConsumer(reader, "index-requests", func(_ context.Context, key, value []byte) error {
		seen = append(seen, string(key))
		if string(value) == "flaky" && failures > 0 {
			failures--
			return errors.New("store unavailable")
		}
		return nil
	})
	c.retry = fastHandlerRetry()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []string{"a", "b", "b", "b", "c"}, seen)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	assert.True(t, reader.closed)
}

func TestConsumerStopsWithFailingMessageUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		queue: []kafka.Message{
			{Offset: 1, Key: []byte("a"), Value: []byte("ok")},
			{Offset: 2, Key: []byte("b"), Value: []byte("fail")},
			{Offset: 3, Key: []byte("c"), Value: []byte("ok")},
		},
	}
	attempts := 0
	c := newConsumer(reader, "index-requests", func(_ context.Context, key, value []byte) error {
		if string(value) != "fail" {
			return nil
		}
		attempts++
		if attempts == 5 {
			cancel()
		}
		return errors.New("store unavailable")
	})
	c.retry = fastHandlerRetry()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, 5, attempts)
	assert.Equal(t, []int64{1}, reader.committed, "nothing past the failing offset is committed")
	assert.Len(t, reader.queue, 1, "the consumer never fetched beyond the failing message")
	assert.True(t, reader.closed)
}

func TestConsumerReturnsNonRetryableFailure(t *testing.T) {
	reader := &fakeReader{
		queue: []kafka.Message{{Offset: 7, Key: []byte("a"), Value: []byte("x")}},
	}
	c := newConsumer(reader, "index-requests", func(context.Context, []byte, []byte) error {
		return resilience.ErrCircuitOpen
	})
	c.retry = fastHandlerRetry()

	err := c.Start(context.Background())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Contains(t, err.Error(), "offset 7")
	assert.Empty(t, reader.committed)
	assert.True(t, reader.closed)
}

type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "index-requests")
	type payload struct {
		URL string `json:"url"`
	}

	require.NoError(t, p.Publish(context.Background(), Event{Key: "http://a/", Value: payload{URL: "http://a/"}}))
	require.Len(t, w.written, 1)
	assert.Equal(t, "http://a/", string(w.written[0].Key))
	assert.JSONEq(t, `{"url":"http://a/"}`, string(w.written[0].Value))

	decoded, err := DecodeJSON[payload](w.written[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "http://a/", decoded.URL)
}

func TestProducerErrors(t *testing.T) {
	boom := errors.New("no brokers")
	p := newProducer(&fakeWriter{err: boom}, "t")
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Key: "k", Value: 1}), boom)

	err := p.Publish(context.Background(), Event{Key: "k", Value: make(chan int)})
	assert.ErrorContains(t, err, "marshaling")

	_, err = DecodeJSON[map[string]any]([]byte("{"))
	assert.Error(t, err)
}
