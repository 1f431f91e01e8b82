package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "rps"

func MatchChannel(matchID string) string {
	return fmt.Sprintf("%s:match:%s", channelPrefix, matchID)
}

func UserChannel(userID string) string {
	return fmt.Sprintf("%s:user:%s", channelPrefix, userID)
}

// NewRedisClient builds a client from a redis:// or rediss:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisPublisher publishes each event to the match channel and to the
// channel of every participant in one pipeline.
type RedisPublisher struct {
	client redis.Cmdable
}

func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, MatchChannel(e.MatchID), payload)
	for _, uid := range e.UserIDs {
		pipe.Publish(ctx, UserChannel(uid), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s for match %s: %w", e.Type, e.MatchID, err)
	}
	return nil
}
