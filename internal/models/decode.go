package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var ErrMalformedEvent = errors.New("malformed event")

// EventMeta carries the fields shared by every decoded event.
type EventMeta struct {
	ID             string
	Sender         string
	OriginServerTS int64
	Type           string
	StateKey       string
	IsState        bool
	Raw            json.RawMessage
}

func (m EventMeta) Meta() EventMeta { return m }

// Event is the closed set of decoded event variants produced by Decode.
type Event interface {
	Meta() EventMeta
}

type CreateEvent struct {
	EventMeta
	Content CreateContent
}

type MemberEvent struct {
	EventMeta
	Content MemberContent
}

type NameEvent struct {
	EventMeta
	Content NameContent
}

type SpaceChildEvent struct {
	EventMeta
	Content SpaceChildContent
}

// GenericStateEvent is any state event whose content the client does not interpret.
type GenericStateEvent struct {
	EventMeta
}

// OtherEvent is a non-state event that is not a ledger entry.
type OtherEvent struct {
	EventMeta
}

// LedgerEntry is implemented by PaymentMessage and InitialMessage.
type LedgerEntry interface {
	Event
	ledgerEntry()
}

type PaymentMessage struct {
	EventMeta
	Payment PaymentPayload
}

func (*PaymentMessage) ledgerEntry() {}

// ActingSender is the payer: the payload's sender override if set, else the event sender.
func (p *PaymentMessage) ActingSender() string {
	if p.Payment.Sender != "" {
		return p.Payment.Sender
	}
	return p.Sender
}

// InitialMessage marks the first message of a room.
type InitialMessage struct {
	EventMeta
	Initial bool
}

func (*InitialMessage) ledgerEntry() {}

// Decode narrows a raw client event into one of the Event variants.
func Decode(ev ClientEvent) (Event, error) {
	meta := EventMeta{
		ID:             ev.EventID,
		Sender:         ev.Sender,
		OriginServerTS: ev.OriginServerTS,
		Type:           ev.Type,
		Raw:            ev.Content,
	}
	if ev.StateKey != nil {
		meta.IsState = true
		meta.StateKey = *ev.StateKey
	}

	if meta.IsState {
		return decodeState(meta)
	}

	if ev.Type != TypeMessage || gjson.GetBytes(ev.Content, "msgtype").Str != MsgTypeText {
		return &OtherEvent{meta}, nil
	}

	switch gjson.GetBytes(ev.Content, "format").Str {
	case FormatPayment:
		var p PaymentPayload
		if err := unmarshalFormattedBody(ev, &p); err != nil {
			return nil, err
		}
		return &PaymentMessage{EventMeta: meta, Payment: p}, nil
	case FormatInitial:
		var p InitialPayload
		if err := unmarshalFormattedBody(ev, &p); err != nil {
			return nil, err
		}
		return &InitialMessage{EventMeta: meta, Initial: p.Initial}, nil
	}
	return &OtherEvent{meta}, nil
}

func decodeState(meta EventMeta) (Event, error) {
	switch meta.Type {
	case TypeCreate:
		e := &CreateEvent{EventMeta: meta}
		return e, unmarshalContent(meta, &e.Content)
	case TypeMember:
		e := &MemberEvent{EventMeta: meta}
		return e, unmarshalContent(meta, &e.Content)
	case TypeName:
		e := &NameEvent{EventMeta: meta}
		return e, unmarshalContent(meta, &e.Content)
	case TypeSpaceChild:
		e := &SpaceChildEvent{EventMeta: meta}
		return e, unmarshalContent(meta, &e.Content)
	}
	return &GenericStateEvent{meta}, nil
}

func unmarshalContent(meta EventMeta, v any) error {
	if len(meta.Raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(meta.Raw, v); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedEvent, meta.Type, meta.ID, err)
	}
	return nil
}

func unmarshalFormattedBody(ev ClientEvent, v any) error {
	body := gjson.GetBytes(ev.Content, "formatted_body")
	if body.Type != gjson.String {
		return fmt.Errorf("%w: %s has no formatted_body", ErrMalformedEvent, ev.EventID)
	}
	if err := json.Unmarshal([]byte(body.Str), v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, ev.EventID, err)
	}
	return nil
}

// DecodeAll decodes events in order, collecting decode errors separately so a
// single malformed event does not hide the rest of a batch.
func DecodeAll(events []ClientEvent) ([]Event, []error) {
	out := make([]Event, 0, len(events))
	var errs []error
	for _, raw := range events {
		ev, err := Decode(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, ev)
	}
	return out, errs
}
