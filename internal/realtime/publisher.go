package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
)

// Publisher sends a JSON event to a named channel. Delivery is best-effort:
// subscribers that are disconnected when an event fires simply miss it.
type Publisher interface {
	Publish(ctx context.Context, channel string, event models.Event) error
}

// ChannelName is the realtime channel for a story instance. Deterministic so
// any process can derive it from the instance identifier alone.
func ChannelName(instanceID string) string {
	return fmt.Sprintf("story:updates:%s", instanceID)
}

// DigestChannelName carries batched event digests for dashboards.
func DigestChannelName(instanceID string) string {
	return fmt.Sprintf("story:digest:%s", instanceID)
}

// Compile-time check to ensure redisPublisher implements Publisher
var _ Publisher = (*redisPublisher)(nil)

type redisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a Publisher over Redis pub/sub.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) Publisher {
	return &redisPublisher{
		client: client,
		logger: logger.Named("RedisPublisher"),
	}
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w: %w", channel, models.ErrPublish, err)
	}
	return nil
}
