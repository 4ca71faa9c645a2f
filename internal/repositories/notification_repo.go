package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

const (
	notificationKeyPrefix = "notifications:"
	notificationCap       = 100
	notificationTTL       = 7 * 24 * time.Hour
)

// RedisNotificationSink keeps the most recent notifications of one user in a
// capped list. The list expires when nothing was pushed for a week.
type RedisNotificationSink struct {
	client *redis.Client
	key    string
}

func NewRedisNotificationSink(client *redis.Client, userID string) *RedisNotificationSink {
	return &RedisNotificationSink{client: client, key: notificationKeyPrefix + userID}
}

func (r *RedisNotificationSink) PushNotification(ctx context.Context, text string) error {
	data, err := json.Marshal(models.StoredNotification{Text: text, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, notificationCap-1)
	pipe.Expire(ctx, r.key, notificationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}

// Recent returns up to n notifications, newest first.
func (r *RedisNotificationSink) Recent(ctx context.Context, n int) ([]models.StoredNotification, error) {
	if n <= 0 || n > notificationCap {
		n = notificationCap
	}
	items, err := r.client.LRange(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	out := make([]models.StoredNotification, 0, len(items))
	for _, item := range items {
		var sn models.StoredNotification
		if err := json.Unmarshal([]byte(item), &sn); err != nil {
			// Skip entries written by an incompatible version
			continue
		}
		out = append(out, sn)
	}
	return out, nil
}
