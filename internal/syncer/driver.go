// Package syncer drives the sync loop against the homeserver. Each round pulls
// one /sync response, feeds state into the reconciler and ledger entries into
// the engine, and issues the self-healing writes the client relies on.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kit-dsn/pfennigfuchs/internal/account"
	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/metrics"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
	"github.com/kit-dsn/pfennigfuchs/internal/notify"
	"github.com/kit-dsn/pfennigfuchs/internal/state"
	"github.com/kit-dsn/pfennigfuchs/internal/transport"
)

const (
	DefaultColdLimit   = 10
	DefaultSteadyLimit = 100
	DefaultPollTimeout = 10 * time.Second
)

var (
	ErrNoIdentity     = state.ErrNoIdentity
	ErrAmbiguousEvent = errors.New("ambiguous event")
)

// Archive receives payments once they are accepted into the ledger.
type Archive interface {
	Append(ctx context.Context, roomID string, payments []*models.PaymentMessage) error
}

type Deps struct {
	Transport transport.Transport
	State     *state.Reconciler
	Ledger    *ledger.Engine
	Account   *account.Store
	Notifier  notify.Notifier
	// Archive is optional.
	Archive Archive
	Logger  zerolog.Logger
}

type Option func(*Driver)

// WithLimits sets the per-request event limits used before and after the
// first successful response.
func WithLimits(cold, steady int) Option {
	return func(d *Driver) {
		d.coldLimit = cold
		d.steadyLimit = steady
	}
}

// WithPollTimeout sets the server-side long-poll timeout of steady rounds.
func WithPollTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.pollTimeout = timeout
	}
}

type Driver struct {
	transport transport.Transport
	state     *state.Reconciler
	ledger    *ledger.Engine
	account   *account.Store
	notifier  notify.Notifier
	archive   Archive
	logger    zerolog.Logger

	myID        string
	coldLimit   int
	steadyLimit int
	pollTimeout time.Duration

	mu     sync.Mutex
	cursor string
	warm   bool
	round  int
	cancel context.CancelFunc
}

func New(deps Deps, opts ...Option) (*Driver, error) {
	if deps.State == nil || deps.State.MyID() == "" {
		return nil, ErrNoIdentity
	}
	if deps.Transport == nil || deps.Ledger == nil || deps.Account == nil {
		return nil, errors.New("syncer: transport, ledger and account store are required")
	}
	d := &Driver{
		transport:   deps.Transport,
		state:       deps.State,
		ledger:      deps.Ledger,
		account:     deps.Account,
		notifier:    deps.Notifier,
		archive:     deps.Archive,
		logger:      deps.Logger,
		myID:        deps.State.MyID(),
		coldLimit:   DefaultColdLimit,
		steadyLimit: DefaultSteadyLimit,
		pollTimeout: DefaultPollTimeout,
	}
	if d.notifier == nil {
		d.notifier = notify.NewLogNotifier(deps.Logger)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Cursor returns the next_batch token of the last successful round.
func (d *Driver) Cursor() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// Cold is true until the first round completed.
func (d *Driver) Cold() bool {
	return d.Cursor() == ""
}

func (d *Driver) limit() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.warm {
		return d.steadyLimit
	}
	return d.coldLimit
}

// Abort cancels the in-flight /sync request of the current round. Writes
// already dispatched by the round are not cancelled.
func (d *Driver) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// Sync performs exactly one round. It must not be called concurrently with itself.
func (d *Driver) Sync(ctx context.Context) error {
	start := time.Now()
	err := d.sync(ctx)
	metrics.SyncRoundDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SyncRoundsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.SyncRoundsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (d *Driver) sync(ctx context.Context) error {
	prev := d.Cursor()
	d.mu.Lock()
	d.round++
	round := d.round
	d.mu.Unlock()
	log := d.logger.With().Int("round", round).Bool("cold", prev == "").Logger()

	resp, err := d.fetch(ctx, prev)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.warm = true
	d.mu.Unlock()

	if resp.AccountData != nil {
		if err := d.applyAccountData(resp.AccountData.Events); err != nil {
			return err
		}
	}

	newRooms := map[string]struct{}{}
	if resp.Rooms != nil {
		newRooms = d.applyRoomState(resp.Rooms)
	}

	if err := d.runSideEffects(ctx, resp.Rooms, prev == ""); err != nil {
		return fmt.Errorf("failed to run side effects: %w", err)
	}

	if err := d.syncMessages(ctx, resp.Rooms, newRooms, prev); err != nil {
		return fmt.Errorf("failed to sync messages: %w", err)
	}

	d.mu.Lock()
	d.cursor = resp.NextBatch
	d.mu.Unlock()

	log.Debug().Int("new_rooms", len(newRooms)).Str("next_batch", resp.NextBatch).Msg("sync round complete")
	return nil
}

func (d *Driver) fetch(ctx context.Context, since string) (*models.SyncResponse, error) {
	filter, err := d.filter()
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"filter":       {filter},
		"set_presence": {"offline"},
	}
	if since != "" {
		q.Set("since", since)
		q.Set("timeout", strconv.FormatInt(d.pollTimeout.Milliseconds(), 10))
	}

	reqCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		cancel()
	}()

	var resp models.SyncResponse
	if err := d.transport.Get(reqCtx, "/sync", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}
	return &resp, nil
}

// Run calls Sync until ctx is done, waiting interval between rounds. Failed
// rounds are logged and retried on the next tick.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := d.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if transport.IsRateLimited(err) {
				d.logger.Warn().Err(err).Dur("retry_after", transport.RetryAfter(err)).Msg("sync round rate limited")
			} else {
				d.logger.Error().Err(err).Msg("sync round failed")
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
