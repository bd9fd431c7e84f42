package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventMessage(t *testing.T, topic, id string) kafka.Message {
	t.Helper()
	e, err := NewEvent("catalog.product.upserted", id, "product", "test", map[string]string{"id": id})
	require.NoError(t, err)
	raw, err := e.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Key: []byte(id), Value: raw}
}

// runConsumer runs c until the reader queue is drained.
func runConsumer(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r.onDrained = cancel

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{GroupID: "search", Topics: []string{"t"}, RetryBackoff: time.Millisecond}
}

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{eventMessage(t, "t", "1"), eventMessage(t, "t", "2")}}

	var seen []string
	c := newConsumer(r, testConsumerConfig(), func(ctx context.Context, e *Event) error {
		seen = append(seen, e.AggregateID)
		return nil
	}, discardLogger())

	runConsumer(t, c, r)

	assert.Equal(t, []string{"1", "2"}, seen)
	assert.Len(t, r.committed, 2)
	assert.Equal(t, 1, r.closed)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{eventMessage(t, "t", "1")}}
	w := &fakeWriter{}
	dlq := &DLQProducer{writer: w, logger: discardLogger()}

	calls := 0
	c := newConsumer(r, testConsumerConfig(), func(ctx context.Context, e *Event) error {
		calls++
		return errors.New("index unavailable")
	}, discardLogger(), WithDLQ(dlq))

	runConsumer(t, c, r)

	assert.Equal(t, 3, calls)
	require.Len(t, r.committed, 1)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "velund.dlq.t", w.msgs[0].Topic)
	assert.Equal(t, "index unavailable", headerValue(w.msgs[0], "dlq.error"))
	assert.Equal(t, "search", headerValue(w.msgs[0], "dlq.consumer_group"))
}

func TestConsumer_MalformedIsNotRetried(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Topic: "t", Value: []byte("garbage")},
		eventMessage(t, "t", "2"),
	}}

	calls := 0
	c := newConsumer(r, testConsumerConfig(), func(ctx context.Context, e *Event) error {
		calls++
		return fmt.Errorf("%w: bad price", ErrMalformedEvent)
	}, discardLogger())

	runConsumer(t, c, r)

	assert.Equal(t, 1, calls, "garbage never reaches the handler; bad payload is tried once")
	assert.Len(t, r.committed, 2)
}

func TestConsumer_IdempotencySkipsRedelivery(t *testing.T) {
	msg := eventMessage(t, "t", "1")
	r := &fakeReader{queue: []kafka.Message{msg, msg}}

	calls := 0
	c := newConsumer(r, testConsumerConfig(), func(ctx context.Context, e *Event) error {
		calls++
		return nil
	}, discardLogger(), WithIdempotency(NewMemoryIdempotencyStore(time.Hour)))

	runConsumer(t, c, r)

	assert.Equal(t, 1, calls)
	assert.Len(t, r.committed, 2)
}

func TestConsumerConfig_Defaults(t *testing.T) {
	cfg := ConsumerConfig{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 1, cfg.MinBytes)
}
