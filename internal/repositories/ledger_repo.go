package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_payments (
	event_id         TEXT PRIMARY KEY,
	room_id          TEXT NOT NULL,
	sender           TEXT NOT NULL,
	subject          TEXT NOT NULL,
	total            NUMERIC NOT NULL,
	payload          JSONB NOT NULL,
	origin_server_ts BIGINT NOT NULL,
	archived_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_payments_room_idx ON ledger_payments (room_id, origin_server_ts)`

const defaultListLimit = 100

// PostgresLedgerArchive keeps an append-only copy of accepted payments.
// Appending an event id twice is a no-op.
type PostgresLedgerArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresLedgerArchive(pool *pgxpool.Pool) *PostgresLedgerArchive {
	return &PostgresLedgerArchive{pool: pool}
}

func (r *PostgresLedgerArchive) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

func (r *PostgresLedgerArchive) Append(ctx context.Context, roomID string, payments []*models.PaymentMessage) error {
	if len(payments) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_payments (event_id, room_id, sender, subject, total, payload, origin_server_ts)
	          VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
	          ON CONFLICT (event_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, p := range payments {
		payload, err := json.Marshal(p.Payment)
		if err != nil {
			return fmt.Errorf("failed to marshal payment %s: %w", p.ID, err)
		}
		batch.Queue(query, p.ID, roomID, p.ActingSender(), p.Payment.Subject, ledger.CalcTotalAmount(p), payload, p.OriginServerTS)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range payments {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to archive payment: %w", err)
		}
	}
	return nil
}

// ListByRoom returns the room's archived payments in timeline order. A
// non-positive limit uses the default.
func (r *PostgresLedgerArchive) ListByRoom(ctx context.Context, roomID string, limit int) ([]*models.ArchivedPayment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT event_id, room_id, sender, subject, total::text, payload, origin_server_ts, archived_at
	          FROM ledger_payments
	          WHERE room_id = $1
	          ORDER BY origin_server_ts ASC, event_id ASC
	          LIMIT $2`

	rows, err := r.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.ArchivedPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

func (r *PostgresLedgerArchive) GetByEventID(ctx context.Context, eventID string) (*models.ArchivedPayment, error) {
	query := `SELECT event_id, room_id, sender, subject, total::text, payload, origin_server_ts, archived_at
	          FROM ledger_payments
	          WHERE event_id = $1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*models.ArchivedPayment, error) {
	var (
		p       models.ArchivedPayment
		total   string
		payload []byte
	)
	err := row.Scan(&p.EventID, &p.RoomID, &p.Sender, &p.Subject, &total, &payload, &p.OriginServerTS, &p.ArchivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse total of %s: %w", p.EventID, err)
	}
	if err := json.Unmarshal(payload, &p.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", p.EventID, err)
	}
	return &p, nil
}
