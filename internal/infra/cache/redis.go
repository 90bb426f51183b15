package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Webhookイベントの処理中マーク。
// 同じイベントの同時配送を早めに弾くためのもので、正はDB側の payment_events。
type EventClaimer struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventClaimer(client *redis.Client, ttl time.Duration) *EventClaimer {
	return &EventClaimer{client: client, ttl: ttl}
}

// 取れたらtrue。他で処理中ならfalse
func (c *EventClaimer) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimKey(eventID), time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (c *EventClaimer) Release(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, claimKey(eventID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func claimKey(eventID string) string {
	return fmt.Sprintf("webhook:inflight:%s", eventID)
}
