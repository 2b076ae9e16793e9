// Package queue carries batch runs from the API to the workers over a Redis
// stream with a consumer group.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-shrink/internal/metrics"
	"github.com/timkrebs/image-shrink/internal/models"
)

// Producer publishes runs to the Redis stream
type Producer struct {
	client     *redis.Client
	metrics    *metrics.QueueMetrics
	streamName string
}

// NewProducer creates a new queue producer
func NewProducer(client *redis.Client, streamName string) *Producer {
	return &Producer{
		client:     client,
		streamName: streamName,
	}
}

// SetMetrics injects queue metrics
func (p *Producer) SetMetrics(m *metrics.QueueMetrics) {
	p.metrics = m
}

// Enqueue adds a run to the stream
func (p *Producer) Enqueue(ctx context.Context, msg *models.RunMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal run message: %w", err)
	}

	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.streamName,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	if p.metrics != nil {
		p.metrics.MessagesProduced.Inc()
	}
	return nil
}

// GetStreamLength returns the current length of the stream
func (p *Producer) GetStreamLength(ctx context.Context) (int64, error) {
	return p.client.XLen(ctx, p.streamName).Result()
}

// GetStats returns queue statistics
func (p *Producer) GetStats(ctx context.Context, consumerGroup string) (*models.QueueStats, error) {
	stats := &models.QueueStats{}

	length, err := p.client.XLen(ctx, p.streamName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stream length: %w", err)
	}
	stats.StreamLength = length

	// The group does not exist until the first worker starts.
	pending, err := p.client.XPending(ctx, p.streamName, consumerGroup).Result()
	if err == nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}

	if p.metrics != nil {
		p.metrics.Depth.Set(float64(length))
	}
	return stats, nil
}
