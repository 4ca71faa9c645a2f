package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// mirrorOptions parses the URL of the change and notification mirror. The
// connection is named after the client unless the URL sets client_name.
func mirrorOptions(redisURL, userID string) (*redis.Options, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = ApplicationName
		if userID != "" {
			opts.ClientName += ":" + userID
		}
	}
	return opts, nil
}

func NewRedisClient(ctx context.Context, redisURL, userID string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := mirrorOptions(redisURL, userID)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Str("client_name", opts.ClientName).Msg("redis mirror connected")
	return client, nil
}
