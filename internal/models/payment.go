package models

import "github.com/shopspring/decimal"

// Share is one (counterparty, signed amount) pair of a payment.
type Share struct {
	User   string          `json:"user"`
	Amount decimal.Decimal `json:"amount"`
}

type PaymentPayload struct {
	Subject string  `json:"subject"`
	Sender  string  `json:"sender,omitempty"`
	V       []Share `json:"v"`
}

type InitialPayload struct {
	Initial bool `json:"pf_initial"`
}
