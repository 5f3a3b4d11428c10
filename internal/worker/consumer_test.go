package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/speech-jobs/internal/domain"
	"github.com/cuongbtq/speech-jobs/internal/provider"
)

type ackCall struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) snapshot() []ackCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackCall(nil), a.calls...)
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	tag        string
	prefetch   int
	err        error
}

func (c *fakeConsumer) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	c.tag = consumerTag
	c.prefetch = prefetch
	if c.err != nil {
		return nil, c.err
	}
	return c.deliveries, nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestParseDelivery(t *testing.T) {
	acker := &fakeAcknowledger{}

	tests := []struct {
		name    string
		body    string
		wantID  string
		wantErr bool
	}{
		{name: "valid", body: `{"job_id":"8f14e45f-ceea-467f-a0e6-3e8f1a2b9c11"}`, wantID: "8f14e45f-ceea-467f-a0e6-3e8f1a2b9c11"},
		{name: "invalid json", body: `{job_id}`, wantErr: true},
		{name: "missing id", body: `{}`, wantErr: true},
		{name: "not a uuid", body: `{"job_id":"abc"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parseDelivery(amqp.Delivery{Body: []byte(tt.body), DeliveryTag: 7, Acknowledger: acker})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, msg.JobID)
			assert.Equal(t, uint64(7), msg.DeliveryTag)
			assert.Same(t, acker, msg.acker)
		})
	}
}

func TestShouldRequeueJob(t *testing.T) {
	w := &Worker{}

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "retryable", err: domain.NewRetryableError(errors.New("redis down")), expected: true},
		{name: "plain error", err: errors.New("boom"), expected: false},
		{name: "not found", err: fmt.Errorf("load: %w", domain.ErrNotFound), expected: false},
		{name: "retryable wrapping not found", err: domain.NewRetryableError(domain.ErrNotFound), expected: false},
		{name: "invalid transition", err: domain.ErrInvalidTransition, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, w.shouldRequeueJob(tt.err))
		})
	}
}

func TestAcknowledge(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		err      error
		expected ackCall
	}{
		{name: "success acks", err: nil, expected: ackCall{tag: 3, ack: true}},
		{name: "retryable requeues", err: domain.NewRetryableError(errors.New("timeout")), expected: ackCall{tag: 3, requeue: true}},
		{name: "permanent drops", err: domain.ErrNotFound, expected: ackCall{tag: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acker := &fakeAcknowledger{}
			env.worker.acknowledge(&JobMessage{JobID: "job", DeliveryTag: 3, acker: acker}, tt.err)

			require.Len(t, acker.calls, 1)
			assert.Equal(t, tt.expected, acker.calls[0])
		})
	}

	t.Run("local message has nothing to acknowledge", func(t *testing.T) {
		assert.NotPanics(t, func() {
			env.worker.acknowledge(&JobMessage{JobID: "job"}, errors.New("boom"))
		})
	})
}

func TestWorker_ConsumesDeliveries(t *testing.T) {
	env := newTestEnv(t, provider.NewStatic("whisper", "hello from the queue", 0))
	consumer := &fakeConsumer{deliveries: make(chan amqp.Delivery, 4)}
	env.worker.rabbitClient = consumer

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan error, 1)
	go func() { started <- env.worker.Start(ctx) }()

	id := env.submit(t, domain.Submission{Provider: "whisper"})
	acker := &fakeAcknowledger{}
	consumer.deliveries <- amqp.Delivery{Body: []byte(`{"job_id":"` + id + `"}`), DeliveryTag: 1, Acknowledger: acker}
	consumer.deliveries <- amqp.Delivery{Body: []byte(`not json`), DeliveryTag: 2, Acknowledger: acker}

	require.Eventually(t, func() bool {
		return len(acker.snapshot()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-started)
	env.worker.Stop()

	assert.ElementsMatch(t, []ackCall{{tag: 1, ack: true}, {tag: 2}}, acker.snapshot())
	assert.Equal(t, domain.StatusCompleted, env.job(t, id).Status)
	assert.Equal(t, "test-worker", consumer.tag)
	assert.Equal(t, 2, consumer.prefetch)
}

func TestWorker_StartConsumerError(t *testing.T) {
	env := newTestEnv(t)
	env.worker.rabbitClient = &fakeConsumer{err: errors.New("channel closed")}

	err := env.worker.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to setup consumer")

	env.worker.Stop()
}
