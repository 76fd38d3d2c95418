package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/config"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][][]byte
}

func (r *batchRecorder) process(msgs [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, msgs)
	return nil
}

func (r *batchRecorder) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.batches))
	for i, b := range r.batches {
		out[i] = len(b)
	}
	return out
}

// fakeSession and fakeClaim embed the sarama interfaces and override only
// what the handler touches
type fakeSession struct {
	sarama.ConsumerGroupSession
	marked int
}

func (s *fakeSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) { s.marked++ }

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func testConsumer(batchSize int, rec *batchRecorder) *Consumer {
	cfg := config.KafkaConfig{Topic: "BroadcastTopic", BatchSize: batchSize, BatchTimeout: time.Second}
	return newConsumer("0", cfg, nil, rec.process, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConsumerFlushesFullBatches(t *testing.T) {
	rec := &batchRecorder{}
	c := testConsumer(2, rec)

	c.addMessage([]byte("a"))
	assert.Empty(t, rec.sizes())
	c.addMessage([]byte("b"))
	c.addMessage([]byte("c"))

	assert.Equal(t, []int{2}, rec.sizes())

	c.flushBuffer()
	assert.Equal(t, []int{2, 1}, rec.sizes())

	c.flushBuffer()
	assert.Equal(t, []int{2, 1}, rec.sizes(), "empty buffer is not flushed")
}

func TestConsumerFlushDoesNotAliasBuffer(t *testing.T) {
	rec := &batchRecorder{}
	c := testConsumer(2, rec)

	c.addMessage([]byte("a"))
	c.addMessage([]byte("b"))
	c.addMessage([]byte("c"))
	c.addMessage([]byte("d"))

	require.Len(t, rec.batches, 2)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, rec.batches[0])
	assert.Equal(t, [][]byte{[]byte("c"), []byte("d")}, rec.batches[1])
}

func TestConsumeClaimBuffersAndMarks(t *testing.T) {
	rec := &batchRecorder{}
	c := testConsumer(10, rec)
	handler := &consumerGroupHandler{consumer: c, ctx: context.Background()}

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 3)}
	for _, v := range []string{"<a/>", "not xml", "{}"} {
		claim.ch <- &sarama.ConsumerMessage{Value: []byte(v)}
	}
	close(claim.ch)

	session := &fakeSession{}
	require.NoError(t, handler.ConsumeClaim(session, claim))

	assert.Equal(t, 3, session.marked)
	c.flushBuffer()
	assert.Equal(t, []int{3}, rec.sizes())
}

func TestConsumeClaimStopsOnCancel(t *testing.T) {
	rec := &batchRecorder{}
	c := testConsumer(10, rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := &consumerGroupHandler{consumer: c, ctx: ctx}

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 1)}
	claim.ch <- &sarama.ConsumerMessage{Value: []byte("x")}
	close(claim.ch)

	assert.ErrorIs(t, handler.ConsumeClaim(&fakeSession{}, claim), context.Canceled)
}
