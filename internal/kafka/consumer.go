package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/config"
)

// MessageProcessor receives batches of raw broadcast payloads
type MessageProcessor func([][]byte) error

// Consumer reads meter broadcasts from a Kafka topic and hands them to the
// processor in batches
type Consumer struct {
	id         string
	config     config.KafkaConfig
	consumer   sarama.ConsumerGroup
	processor  MessageProcessor
	logger     *slog.Logger
	msgBuffer  [][]byte
	bufferLock sync.Mutex
	lastFlush  time.Time
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id string, config config.KafkaConfig, processor MessageProcessor, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	saramaConfig.Consumer.Fetch.Min = 1
	saramaConfig.Consumer.Fetch.Default = 1024 * 1024 // 1MB
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	client, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(id, config, client, processor, logger), nil
}

func newConsumer(id string, config config.KafkaConfig, group sarama.ConsumerGroup, processor MessageProcessor, logger *slog.Logger) *Consumer {
	return &Consumer{
		id:        id,
		config:    config,
		consumer:  group,
		processor: processor,
		logger:    logger.With("component", "kafka", "consumer", id),
		msgBuffer: make([][]byte, 0, config.BatchSize),
		lastFlush: time.Now(),
	}
}

// Consume reads from the topic until ctx is done. Buffered messages are
// flushed before it returns.
func (c *Consumer) Consume(ctx context.Context) error {
	go func() {
		for err := range c.consumer.Errors() {
			c.logger.Error("consumer_error", "error", err)
		}
	}()

	handler := &consumerGroupHandler{
		consumer: c,
		ctx:      ctx,
	}

	flushTicker := time.NewTicker(c.config.BatchTimeout)
	defer flushTicker.Stop()

	go func() {
		for {
			select {
			case <-flushTicker.C:
				c.flushBuffer()
			case <-ctx.Done():
				return
			}
		}
	}()
	defer c.flushBuffer()

	c.logger.Info("consumer_started", "topic", c.config.Topic, "group", c.config.GroupID)
	for {
		// Consume returns on every rebalance and must be called again
		if err := c.consumer.Consume(ctx, []string{c.config.Topic}, handler); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// addMessage adds a message to the buffer and flushes if needed
func (c *Consumer) addMessage(value []byte) {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.msgBuffer = append(c.msgBuffer, value)

	if len(c.msgBuffer) >= c.config.BatchSize {
		c.flushBufferLocked()
	}
}

// flushBuffer flushes the message buffer
func (c *Consumer) flushBuffer() {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.flushBufferLocked()
}

// flushBufferLocked flushes the message buffer while holding the lock. The
// processor only enqueues, so it is called inline.
func (c *Consumer) flushBufferLocked() {
	if len(c.msgBuffer) == 0 {
		return
	}

	messages := make([][]byte, len(c.msgBuffer))
	copy(messages, c.msgBuffer)

	clear(c.msgBuffer)
	c.msgBuffer = c.msgBuffer[:0]
	c.lastFlush = time.Now()

	if err := c.processor(messages); err != nil {
		c.logger.Error("process_failed", "messages", len(messages), "error", err)
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ctx      context.Context
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim buffers every message value. Malformed payloads are dropped
// downstream, so every message is marked here.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}

		h.consumer.addMessage(message.Value)
		session.MarkMessage(message, "")
	}
	return nil
}
