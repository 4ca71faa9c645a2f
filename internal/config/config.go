package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HomeserverURL string
	AccessToken   string
	UserID        string

	SyncInterval time.Duration
	ColdLimit    int
	SteadyLimit  int
	PollTimeout  time.Duration

	ServerPort  string
	JWTSecret   string
	JWTExpiry   time.Duration
	DatabaseURL string
	RedisURL    string

	LogLevel string
	Env      string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		HomeserverURL: os.Getenv("HOMESERVER_URL"),
		AccessToken:   os.Getenv("ACCESS_TOKEN"),
		UserID:        os.Getenv("USER_ID"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		JWTSecret:     os.Getenv("API_JWT_SECRET"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Env:           getEnv("ENV", "development"),
	}

	var err error
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", "1s"); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = getDuration("POLL_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.JWTExpiry, err = getDuration("API_JWT_EXPIRY", "24h"); err != nil {
		return nil, err
	}
	if cfg.ColdLimit, err = getInt("COLD_LIMIT", "10"); err != nil {
		return nil, err
	}
	if cfg.SteadyLimit, err = getInt("STEADY_LIMIT", "100"); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.HomeserverURL == "" {
		return nil, errors.New("HOMESERVER_URL is required")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("ACCESS_TOKEN is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("USER_ID is required")
	}

	return cfg, nil
}

// LoadAPIAuth reads only the token signing settings, for commands that never
// talk to the homeserver.
func LoadAPIAuth() (string, time.Duration, error) {
	secret := os.Getenv("API_JWT_SECRET")
	if secret == "" {
		return "", 0, errors.New("API_JWT_SECRET is required")
	}
	expiry, err := getDuration("API_JWT_EXPIRY", "24h")
	if err != nil {
		return "", 0, err
	}
	return secret, expiry, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// APIEnabled is true when a JWT secret is configured. The query API is not
// served without one.
func (c *Config) APIEnabled() bool {
	return c.JWTSecret != ""
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}

func getInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s value", key)
	}
	return n, nil
}
