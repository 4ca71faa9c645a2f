package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kit-dsn/pfennigfuchs/internal/account"
	"github.com/kit-dsn/pfennigfuchs/internal/api"
	"github.com/kit-dsn/pfennigfuchs/internal/changefeed"
	"github.com/kit-dsn/pfennigfuchs/internal/config"
	"github.com/kit-dsn/pfennigfuchs/internal/database"
	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/logging"
	"github.com/kit-dsn/pfennigfuchs/internal/notify"
	"github.com/kit-dsn/pfennigfuchs/internal/repositories"
	"github.com/kit-dsn/pfennigfuchs/internal/services"
	"github.com/kit-dsn/pfennigfuchs/internal/state"
	"github.com/kit-dsn/pfennigfuchs/internal/syncer"
	"github.com/kit-dsn/pfennigfuchs/internal/transport"
)

const (
	sinkTimeout = 2 * time.Second
	// requestSlack is added to the long-poll timeout for the HTTP client deadline.
	requestSlack = 30 * time.Second
)

// app is the wired process: stores, driver and the optional backends.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	state   *state.Reconciler
	ledger  *ledger.Engine
	account *account.Store
	feed    *changefeed.Feed
	driver  *syncer.Driver

	pool          *pgxpool.Pool
	redis         *redis.Client
	archive       repositories.LedgerArchive
	changes       repositories.ChangePublisher
	notifications repositories.NotificationSink
}

func newApp(ctx context.Context, cfg *config.Config, opts *RootOptions) (*app, error) {
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.New(cfg.Env, level).With().Str("user_id", cfg.UserID).Logger()

	rec, err := state.NewReconciler(cfg.UserID)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		state:   rec,
		account: account.NewStore(),
		feed:    changefeed.New(logger),
	}
	a.ledger = ledger.NewEngine(rec, a.feed, logger)

	if cfg.DatabaseURL != "" {
		a.pool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		archive := repositories.NewPostgresLedgerArchive(a.pool)
		if err := archive.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.archive = archive
	}

	if cfg.RedisURL != "" {
		a.redis, err = database.NewRedisClient(ctx, cfg.RedisURL, cfg.UserID, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.changes = repositories.NewRedisChangePublisher(a.redis)
		a.notifications = repositories.NewRedisNotificationSink(a.redis, cfg.UserID)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if a.notifications != nil {
		notifiers = append(notifiers, notify.NewSinkNotifier(a.notifications, sinkTimeout, logger))
	}

	deps := syncer.Deps{
		Transport: transport.NewClient(cfg.HomeserverURL, cfg.AccessToken, &http.Client{Timeout: cfg.PollTimeout + requestSlack}, logger),
		State:     rec,
		Ledger:    a.ledger,
		Account:   a.account,
		Notifier:  notifiers,
		Logger:    logger,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	a.driver, err = syncer.New(deps,
		syncer.WithLimits(cfg.ColdLimit, cfg.SteadyLimit),
		syncer.WithPollTimeout(cfg.PollTimeout),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create sync driver: %w", err)
	}
	return a, nil
}

// forwardChanges mirrors change signals to Redis until ctx is done. It is a
// no-op without Redis.
func (a *app) forwardChanges(ctx context.Context) {
	if a.changes == nil {
		return
	}
	a.feed.Forward(ctx, a.changes)
}

func (a *app) router() http.Handler {
	checks := map[string]api.HealthCheck{}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return api.NewRouter(api.Deps{
		State:         a.state,
		Ledger:        a.ledger,
		Feed:          a.feed,
		Sync:          a.driver,
		Auth:          services.NewAuthService(a.cfg.JWTSecret, a.cfg.JWTExpiry),
		Archive:       a.archive,
		Changes:       a.changes,
		Notifications: a.notifications,
		Checks:        checks,
		Logger:        a.logger,
	})
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
