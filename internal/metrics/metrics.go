package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync metrics
	SyncRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfsync_sync_rounds_total",
			Help: "Total sync rounds",
		},
		[]string{"result"}, // "ok" or "error"
	)

	SyncRoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pfsync_sync_round_duration_seconds",
			Help:    "Sync round duration including long poll",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	BackfillPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pfsync_backfill_pages_total",
			Help: "Total history pages fetched during backfill",
		},
	)

	SideEffectWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfsync_side_effect_writes_total",
			Help: "Total self-healing writes issued",
		},
		[]string{"kind"},
	)

	// Ledger metrics
	LedgerEntriesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pfsync_ledger_entries_accepted_total",
			Help: "Total ledger entries accepted after dedup",
		},
	)

	LedgerDuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pfsync_ledger_duplicates_dropped_total",
			Help: "Total re-delivered ledger entries dropped",
		},
	)

	// Transport metrics
	HomeserverRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pfsync_homeserver_request_duration_seconds",
			Help:    "Homeserver request duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 15},
		},
		[]string{"method", "status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfsync_http_requests_total",
			Help: "Total HTTP requests served by the query API",
		},
		[]string{"method", "route", "status"},
	)
)
