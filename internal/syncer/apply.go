package syncer

import (
	"encoding/json"
	"fmt"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

func (d *Driver) filter() (string, error) {
	notRooms := []string{}
	for _, id := range d.state.Rooms() {
		if !d.state.IsProductRelated(id) {
			notRooms = append(notRooms, id)
		}
	}
	roomEvents := &models.RoomEventFilter{
		LazyLoadMembers:         true,
		IncludeRedundantMembers: false,
		Limit:                   d.limit(),
	}
	f := models.Filter{
		AccountData: &models.EventFilter{Types: []string{models.AccountDataType}},
		Presence:    &models.EventFilter{Types: []string{}},
		Room: &models.RoomFilter{
			NotRooms:  notRooms,
			Ephemeral: &models.EventFilter{Types: []string{}},
			State:     roomEvents,
			Timeline:  roomEvents,
		},
	}
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to marshal filter: %w", err)
	}
	return string(data), nil
}

// applyAccountData replaces the account record with the product's event.
// More than one such event in a response is an error.
func (d *Driver) applyAccountData(events []models.AccountDataEvent) error {
	var found *models.AccountDataEvent
	for i := range events {
		if events[i].Type != models.AccountDataType {
			continue
		}
		if found != nil {
			return fmt.Errorf("%w: more than one %s account data event", ErrAmbiguousEvent, models.AccountDataType)
		}
		found = &events[i]
	}
	if found == nil {
		return nil
	}
	var data models.GlobalAccountData
	if err := json.Unmarshal(found.Content, &data); err != nil {
		d.logger.Warn().Err(err).Msg("skipping malformed account data")
		return nil
	}
	d.account.Apply(data)
	return nil
}

// decode narrows raw events and logs the ones that cannot be interpreted.
func (d *Driver) decode(roomID string, raw []models.ClientEvent) []models.Event {
	events, errs := models.DecodeAll(raw)
	for _, err := range errs {
		d.logger.Warn().Err(err).Str("room_id", roomID).Msg("skipping malformed event")
	}
	return events
}

// applyRoomState feeds joined rooms' state into the reconciler and purges left
// rooms. It returns the rooms seen for the first time.
func (d *Driver) applyRoomState(rooms *models.Rooms) map[string]struct{} {
	newRooms := make(map[string]struct{})
	for roomID, room := range rooms.Join {
		for _, ev := range d.decode(roomID, room.State.Events) {
			m := ev.Meta()
			if !m.IsState {
				continue
			}
			if d.state.ApplyStateEvent(roomID, m.Type, m.StateKey, ev, false) {
				newRooms[roomID] = struct{}{}
			}
		}
		for _, ev := range d.decode(roomID, room.Timeline.Events) {
			m := ev.Meta()
			if !m.IsState {
				continue
			}
			if d.state.ApplyStateEvent(roomID, m.Type, m.StateKey, ev, false) {
				newRooms[roomID] = struct{}{}
			}
		}
	}
	for roomID := range rooms.Leave {
		d.state.LeaveRoom(roomID)
		d.ledger.LeaveRoom(roomID)
		delete(newRooms, roomID)
		d.logger.Info().Str("room_id", roomID).Msg("left room")
	}
	return newRooms
}
