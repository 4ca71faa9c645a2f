// Package state keeps the latest-state tables of every room the client has
// seen and answers membership and metadata queries over them.
package state

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

var (
	ErrCorruptOneOnOne = errors.New("illegal state in one-on-one room: more than one member left")
	ErrNoIdentity      = errors.New("no authenticated user id")
	ErrInvalidUserID   = errors.New("illegal matrix id")
)

type slot struct {
	ev   models.Event
	lazy bool
}

type room struct {
	seen   map[string]struct{}
	tables map[string]map[string]slot
}

// Reconciler owns per-room state tables keyed by (event type, state key).
// Mutations come from the sync driver; reads may happen from any goroutine.
type Reconciler struct {
	mu    sync.RWMutex
	myID  string
	rooms map[string]*room
}

func NewReconciler(myID string) (*Reconciler, error) {
	if myID == "" {
		return nil, ErrNoIdentity
	}
	return &Reconciler{
		myID:  myID,
		rooms: make(map[string]*room),
	}, nil
}

func (r *Reconciler) MyID() string { return r.myID }

// MyDomain returns the server part of the user id.
func (r *Reconciler) MyDomain() (string, error) {
	_, domain, err := SplitUserID(r.myID)
	return domain, err
}

// ApplyStateEvent records ev as the current value of (typ, key) in roomID.
// Re-delivery of a known event id is a no-op. It returns true only when ev
// is the first event ever seen for the room.
//
// Membership slots written with lazy=true (backfill) never replace a value
// that arrived through the live feed.
func (r *Reconciler) ApplyStateEvent(roomID, typ, key string, ev models.Event, lazy bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ev.Meta().ID
	rm, ok := r.rooms[roomID]
	if ok {
		if _, dup := rm.seen[id]; dup {
			return false
		}
	}
	if !ok {
		rm = &room{
			seen:   make(map[string]struct{}),
			tables: make(map[string]map[string]slot),
		}
		r.rooms[roomID] = rm
	}
	rm.seen[id] = struct{}{}
	isNew := len(rm.seen) == 1

	table, found := rm.tables[typ]
	if !found {
		table = make(map[string]slot)
		rm.tables[typ] = table
	}

	if existing, exists := table[key]; exists {
		// the create marker is immutable
		if typ == models.TypeCreate {
			return isNew
		}
		if typ == models.TypeMember && lazy && !existing.lazy {
			return isNew
		}
	}
	table[key] = slot{ev: ev, lazy: lazy && typ == models.TypeMember}

	return isNew
}

// LeaveRoom forgets everything known about roomID.
func (r *Reconciler) LeaveRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// Clear drops all rooms, used on logout.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]*room)
}

// StateEvent returns the current event in slot (typ, key).
func (r *Reconciler) StateEvent(roomID, typ, key string) (models.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.lookup(roomID, typ, key)
	return s.ev, ok
}

func (r *Reconciler) lookup(roomID, typ, key string) (slot, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return slot{}, false
	}
	s, ok := rm.tables[typ][key]
	return s, ok
}

// SplitUserID splits "@local:domain".
func SplitUserID(userID string) (string, string, error) {
	if !strings.HasPrefix(userID, "@") {
		return "", "", ErrInvalidUserID
	}
	local, domain, ok := strings.Cut(userID[1:], ":")
	if !ok || local == "" || domain == "" {
		return "", "", ErrInvalidUserID
	}
	return local, domain, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
