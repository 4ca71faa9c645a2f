package models

import "encoding/json"

const (
	TypeCreate     = "m.room.create"
	TypeMember     = "m.room.member"
	TypeName       = "m.room.name"
	TypeTopic      = "m.room.topic"
	TypeSpaceChild = "m.space.child"
	TypeMessage    = "m.room.message"

	// AccountDataType is the account data key (and member content key)
	// under which the product stores its user record.
	AccountDataType = "pfennigfuchs"

	RoomTypeSpace = "m.space"
)

// ClientEvent is an event as delivered by /sync, /messages or invite state.
// StateKey is nil for timeline messages.
type ClientEvent struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	StateKey       *string         `json:"state_key,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	Content        json.RawMessage `json:"content"`
}

func (e *ClientEvent) IsState() bool {
	return e.StateKey != nil
}

type AccountDataEvent struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}
