package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-shrink/internal/metrics"
	"github.com/timkrebs/image-shrink/internal/models"
)

// ErrMalformedMessage is returned together with the offending Message so the
// caller can acknowledge and drop it.
var ErrMalformedMessage = errors.New("malformed queue message")

// Consumer reads runs from the Redis stream
type Consumer struct {
	client        *redis.Client
	metrics       *metrics.QueueMetrics
	logger        *slog.Logger
	streamName    string
	consumerGroup string
	consumerName  string
	pollTimeout   time.Duration
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	PollTimeout   time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(client *redis.Client, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:        client,
		streamName:    cfg.StreamName,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
		pollTimeout:   cfg.PollTimeout,
		logger:        logger,
	}
}

// SetMetrics injects queue metrics
func (c *Consumer) SetMetrics(m *metrics.QueueMetrics) {
	c.metrics = m
}

// EnsureGroup creates the consumer group if it doesn't exist
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.streamName, c.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Message is one run read from the stream
type Message struct {
	Run  *models.RunMessage
	ID   string
	Data string
}

// Consume returns the next run, redelivering this consumer's unacknowledged
// messages first. It returns nil, nil when the poll times out.
func (c *Consumer) Consume(ctx context.Context) (*Message, error) {
	start := time.Now()
	if c.metrics != nil {
		defer metrics.RecordDuration(start, c.metrics.ConsumeDuration)
	}

	pendingMessages, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamName, "0"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read pending messages: %w", err)
	}
	if len(pendingMessages) > 0 && len(pendingMessages[0].Messages) > 0 {
		c.logger.Debug("redelivering pending run", "message_id", pendingMessages[0].Messages[0].ID)
		return c.parseMessage(pendingMessages[0].Messages[0])
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamName, ">"},
		Count:    1,
		Block:    c.pollTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return c.parseMessage(streams[0].Messages[0])
}

func (c *Consumer) parseMessage(redisMsg redis.XMessage) (*Message, error) {
	msg := &Message{ID: redisMsg.ID}

	data, ok := redisMsg.Values["data"].(string)
	if !ok {
		return msg, fmt.Errorf("%w: missing data field", ErrMalformedMessage)
	}
	msg.Data = data

	var run models.RunMessage
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg.Run = &run

	if c.metrics != nil {
		c.metrics.MessagesConsumed.Inc()
	}
	return msg, nil
}

// Acknowledge marks a message as processed
func (c *Consumer) Acknowledge(ctx context.Context, messageID string) error {
	_, err := c.client.XAck(ctx, c.streamName, c.consumerGroup, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// MarkFailed counts a message whose run could not be executed
func (c *Consumer) MarkFailed() {
	if c.metrics != nil {
		c.metrics.MessagesFailed.Inc()
	}
}

// GetPendingCount returns the number of pending messages in the consumer group
func (c *Consumer) GetPendingCount(ctx context.Context) (int64, error) {
	pending, err := c.client.XPending(ctx, c.streamName, c.consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}
