// Package api serves a read-only HTTP view of the synced rooms and ledgers.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kit-dsn/pfennigfuchs/internal/changefeed"
	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/repositories"
	"github.com/kit-dsn/pfennigfuchs/internal/services"
	"github.com/kit-dsn/pfennigfuchs/internal/state"
)

// SyncStatus is what the health check needs from the sync driver.
type SyncStatus interface {
	Cursor() string
}

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	State  *state.Reconciler
	Ledger *ledger.Engine
	Feed   *changefeed.Feed
	Sync   SyncStatus
	Auth   *services.AuthService

	// Optional backends. Their routes answer 503 when unset.
	Archive       repositories.LedgerArchive
	Changes       repositories.ChangePublisher
	Notifications repositories.NotificationSink
	Checks        map[string]HealthCheck

	Logger zerolog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(Logger(deps.Logger))
	r.Use(chimw.Recoverer)

	h := NewHandler(deps)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(deps.Auth))

		r.Get("/rooms", h.ListRooms)
		r.Get("/contacts", h.ListContacts)
		r.Get("/notifications", h.ListNotifications)

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Use(h.RequireRoom)

			r.Get("/", h.GetRoom)
			r.Get("/balances", h.Balances)
			r.Get("/debts", h.Debts)
			r.Get("/settlement", h.Settlement)
			r.Get("/entries", h.Entries)
			r.Get("/members", h.Members)
			r.Get("/archive", h.Archive)
			r.Get("/changes", h.LastChange)
			r.Get("/wait", h.Wait)
		})
	})

	return r
}
