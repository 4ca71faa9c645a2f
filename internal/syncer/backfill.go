package syncer

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/metrics"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
	"github.com/kit-dsn/pfennigfuchs/internal/transport"
)

// syncMessages backfills and replays ledger messages of every joined product
// room. Rooms run concurrently, pages within a room sequentially.
func (d *Driver) syncMessages(ctx context.Context, rooms *models.Rooms, newRooms map[string]struct{}, prev string) error {
	if rooms == nil {
		return nil
	}
	cold := prev == ""
	var g errgroup.Group
	for roomID, room := range rooms.Join {
		if !d.state.IsProductRoom(roomID) {
			continue
		}
		_, isNew := newRooms[roomID]
		g.Go(func() error { return d.syncRoomMessages(ctx, roomID, room.Timeline, isNew, prev, cold) })
	}
	return g.Wait()
}

func (d *Driver) syncRoomMessages(ctx context.Context, roomID string, timeline models.Timeline, isNew bool, prev string, cold bool) error {
	if isNew || (timeline.Limited && timeline.PrevBatch != "") {
		stopAt := prev
		if isNew {
			stopAt = ""
		}
		pages, err := d.backfill(ctx, roomID, timeline.PrevBatch, stopAt)
		if err != nil {
			return err
		}
		for _, page := range pages {
			d.replay(ctx, roomID, page, cold)
		}
	}
	d.replay(ctx, roomID, timeline.Events, cold)
	return nil
}

// backfill walks history backwards from `from` and returns the pages oldest
// first, each in chronological order. It stops when the history is exhausted
// or when the continuation token reaches stopAt.
func (d *Driver) backfill(ctx context.Context, roomID, from, stopAt string) ([][]models.ClientEvent, error) {
	filter, err := d.filter()
	if err != nil {
		return nil, err
	}
	path := "/rooms/" + transport.PathEscape(roomID) + "/messages"

	var pages [][]models.ClientEvent
	token := from
	for {
		q := url.Values{
			"dir":    {"b"},
			"filter": {filter},
			"limit":  {strconv.Itoa(2*d.limit() + 1)},
		}
		if token != "" {
			q.Set("from", token)
		}
		if stopAt != "" {
			q.Set("to", stopAt)
		}

		var page models.MessagesResponse
		if err := d.transport.Get(ctx, path, q, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch history of %s: %w", roomID, err)
		}
		metrics.BackfillPages.Inc()

		slices.Reverse(page.Chunk)
		pages = append(pages, page.Chunk)

		if page.End == "" || page.End == token {
			break
		}
		token = page.End
		if stopAt != "" && token == stopAt {
			break
		}
	}
	slices.Reverse(pages)
	d.logger.Debug().Str("room_id", roomID).Int("pages", len(pages)).Msg("backfilled room")
	return pages, nil
}

// replay applies membership events lazily and then hands ledger entries to the engine.
func (d *Driver) replay(ctx context.Context, roomID string, raw []models.ClientEvent, cold bool) {
	var entries []models.LedgerEntry
	for _, ev := range d.decode(roomID, raw) {
		switch e := ev.(type) {
		case *models.MemberEvent:
			d.state.ApplyStateEvent(roomID, e.Type, e.StateKey, e, true)
		case models.LedgerEntry:
			entries = append(entries, e)
		}
	}

	var notifyFn ledger.NotifyFunc
	if !cold {
		notifyFn = d.notifyPayment
	}
	accepted := d.ledger.AddMessageBatch(roomID, entries, notifyFn)
	d.archivePayments(ctx, roomID, accepted)
}

func (d *Driver) notifyPayment(roomID string, p *models.PaymentMessage) {
	room := d.state.DisplayName(roomID)
	subject := p.Payment.Subject

	if p.ActingSender() == d.myID {
		total := decimal.Zero
		for _, s := range p.Payment.V {
			total = total.Add(s.Amount)
		}
		d.notifier.PushMessage(fmt.Sprintf("You paid %s in %s with subject: %s", total.StringFixed(2), room, subject))
		return
	}
	for _, s := range p.Payment.V {
		if s.User == d.myID {
			mine := ledger.SumShares(p, d.myID)
			d.notifier.PushMessage(fmt.Sprintf("New expense of %s in %s with subject: %s", mine.StringFixed(2), room, subject))
			return
		}
	}
}

func (d *Driver) archivePayments(ctx context.Context, roomID string, accepted []models.LedgerEntry) {
	if d.archive == nil || len(accepted) == 0 {
		return
	}
	var payments []*models.PaymentMessage
	for _, e := range accepted {
		if p, ok := e.(*models.PaymentMessage); ok {
			payments = append(payments, p)
		}
	}
	if len(payments) == 0 {
		return
	}
	if err := d.archive.Append(ctx, roomID, payments); err != nil {
		d.logger.Warn().Err(err).Str("room_id", roomID).Int("payments", len(payments)).Msg("failed to archive payments")
	}
}
