package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArchivedPayment is a payment as stored by the ledger archive.
type ArchivedPayment struct {
	EventID        string          `json:"event_id"`
	RoomID         string          `json:"room_id"`
	Sender         string          `json:"sender"`
	Subject        string          `json:"subject"`
	Total          decimal.Decimal `json:"total"`
	Payload        PaymentPayload  `json:"payload"`
	OriginServerTS int64           `json:"origin_server_ts"`
	ArchivedAt     time.Time       `json:"archived_at"`
}

// StoredNotification is a notification kept by a notification sink.
type StoredNotification struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomChange records when a room's state or ledger last changed.
type RoomChange struct {
	RoomID    string    `json:"room_id"`
	ChangedAt time.Time `json:"changed_at"`
}
