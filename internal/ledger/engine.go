// Package ledger keeps the deduplicated payment history of every room and
// derives balances, the debt matrix and a naive settlement from it.
package ledger

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/kit-dsn/pfennigfuchs/internal/metrics"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

// MemberSource resolves the member list used to index a room's debt matrix.
// Implementations must return ids in a stable order.
type MemberSource interface {
	Members(roomID string) []string
}

// Signaler is told when a room's ledger changed.
type Signaler interface {
	Changed(roomID string)
}

// NotifyFunc is called once per newly accepted payment.
type NotifyFunc func(roomID string, p *models.PaymentMessage)

type roomLedger struct {
	seen    map[string]struct{}
	batches [][]models.LedgerEntry
}

type Engine struct {
	mu      sync.RWMutex
	rooms   map[string]*roomLedger
	members MemberSource
	signal  Signaler
	logger  zerolog.Logger
}

// NewEngine creates an engine. signal may be nil.
func NewEngine(members MemberSource, signal Signaler, logger zerolog.Logger) *Engine {
	return &Engine{
		rooms:   make(map[string]*roomLedger),
		members: members,
		signal:  signal,
		logger:  logger,
	}
}

// AddMessageBatch drops entries whose id was already accepted for the room and
// appends the rest as one batch. notify is invoked for each surviving payment;
// pass nil during a cold round. The room is registered even when nothing
// survives, so it shows up in Tabular.
func (e *Engine) AddMessageBatch(roomID string, entries []models.LedgerEntry, notify NotifyFunc) []models.LedgerEntry {
	e.mu.Lock()
	rl, ok := e.rooms[roomID]
	if !ok {
		rl = &roomLedger{seen: make(map[string]struct{})}
		e.rooms[roomID] = rl
	}

	var accepted []models.LedgerEntry
	for _, entry := range entries {
		id := entry.Meta().ID
		if _, dup := rl.seen[id]; dup {
			metrics.LedgerDuplicatesDropped.Inc()
			continue
		}
		rl.seen[id] = struct{}{}
		accepted = append(accepted, entry)
	}
	if len(accepted) > 0 {
		rl.batches = append(rl.batches, accepted)
	}
	e.mu.Unlock()

	if len(accepted) == 0 {
		return nil
	}
	metrics.LedgerEntriesAccepted.Add(float64(len(accepted)))
	e.logger.Debug().Str("room_id", roomID).Int("accepted", len(accepted)).Int("offered", len(entries)).Msg("ledger batch appended")

	if notify != nil {
		for _, entry := range accepted {
			if p, ok := entry.(*models.PaymentMessage); ok {
				notify(roomID, p)
			}
		}
	}
	if e.signal != nil {
		e.signal.Changed(roomID)
	}
	return accepted
}

// LeaveRoom drops the room's entries and seen-set.
func (e *Engine) LeaveRoom(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rooms, roomID)
}

func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rooms = make(map[string]*roomLedger)
}

// Rooms returns the ids of rooms that have a ledger, in no particular order.
func (e *Engine) Rooms() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		out = append(out, id)
	}
	return out
}

// payments returns the room's payment entries in arrival order. Callers hold mu.
func (e *Engine) payments(roomID string) []*models.PaymentMessage {
	rl, ok := e.rooms[roomID]
	if !ok {
		return nil
	}
	var out []*models.PaymentMessage
	for _, batch := range rl.batches {
		for _, entry := range batch {
			if p, ok := entry.(*models.PaymentMessage); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

// Payments returns every accepted payment of the room in arrival order.
func (e *Engine) Payments(roomID string) []*models.PaymentMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.payments(roomID)
}

// HasFullHistory is true when the oldest accepted entry is the initial marker.
func (e *Engine) HasFullHistory(roomID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rl, ok := e.rooms[roomID]
	if !ok || len(rl.batches) == 0 || len(rl.batches[0]) == 0 {
		return false
	}
	_, ok = rl.batches[0][0].(*models.InitialMessage)
	return ok
}
