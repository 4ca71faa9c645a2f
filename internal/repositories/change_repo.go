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
	ChangesChannel  = "pfennigfuchs:changes"
	changeKeyPrefix = "room_change:"
	changeTTL       = 24 * time.Hour // Change marks of idle rooms expire after a day
)

// RedisChangePublisher mirrors local room change signals to Redis: one
// PUBLISH per change plus a per-room last-changed key with a TTL.
type RedisChangePublisher struct {
	client *redis.Client
}

func NewRedisChangePublisher(client *redis.Client) *RedisChangePublisher {
	return &RedisChangePublisher{client: client}
}

func (r *RedisChangePublisher) PublishChange(ctx context.Context, roomID string) error {
	change := models.RoomChange{RoomID: roomID, ChangedAt: time.Now()}
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, changeKey(roomID), data, changeTTL)
	pipe.Publish(ctx, ChangesChannel, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// LastChanged returns ErrNotFound when the room has no unexpired change mark.
func (r *RedisChangePublisher) LastChanged(ctx context.Context, roomID string) (*models.RoomChange, error) {
	data, err := r.client.Get(ctx, changeKey(roomID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change: %w", err)
	}

	var change models.RoomChange
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change: %w", err)
	}
	return &change, nil
}

// Helper: build Redis key for a room's change mark
func changeKey(roomID string) string {
	return changeKeyPrefix + roomID
}
