// Package changefeed signals "something changed in room X" to readers. Signals
// carry no payload; subscribers re-read through the query surface.
package changefeed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const allBuffer = 64

// Mirror republishes change signals outside the process.
type Mirror interface {
	PublishChange(ctx context.Context, roomID string) error
}

type Feed struct {
	mu     sync.Mutex
	next   int
	rooms  map[string]map[int]chan struct{}
	all    map[int]chan string
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Feed {
	return &Feed{
		rooms:  make(map[string]map[int]chan struct{}),
		all:    make(map[int]chan string),
		logger: logger,
	}
}

// Subscribe returns a channel that receives a tick whenever roomID changes.
// Ticks coalesce: a slow reader sees at most one pending tick.
func (f *Feed) Subscribe(roomID string) (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan struct{}, 1)
	subs, ok := f.rooms[roomID]
	if !ok {
		subs = make(map[int]chan struct{})
		f.rooms[roomID] = subs
	}
	subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.rooms[roomID], id)
			if len(f.rooms[roomID]) == 0 {
				delete(f.rooms, roomID)
			}
			close(ch)
		})
	}
}

// SubscribeAll returns a channel of changed room ids across every room.
// When the reader falls behind, signals for it are dropped.
func (f *Feed) SubscribeAll() (<-chan string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan string, allBuffer)
	f.all[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.all, id)
			close(ch)
		})
	}
}

// Changed publishes a signal for roomID. It never blocks.
func (f *Feed) Changed(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.rooms[roomID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	for _, ch := range f.all {
		select {
		case ch <- roomID:
		default:
			f.logger.Debug().Str("room_id", roomID).Msg("change subscriber behind, signal dropped")
		}
	}
}

// Forward pushes every change signal to m until ctx is done.
func (f *Feed) Forward(ctx context.Context, m Mirror) {
	ch, cancel := f.SubscribeAll()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case roomID := <-ch:
			if err := m.PublishChange(ctx, roomID); err != nil {
				f.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to mirror change signal")
			}
		}
	}
}
