package repositories

import (
	"context"
	"errors"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

var ErrNotFound = errors.New("not found")

type LedgerArchive interface {
	EnsureSchema(ctx context.Context) error
	Append(ctx context.Context, roomID string, payments []*models.PaymentMessage) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]*models.ArchivedPayment, error)
	GetByEventID(ctx context.Context, eventID string) (*models.ArchivedPayment, error)
}

type ChangePublisher interface {
	PublishChange(ctx context.Context, roomID string) error
	LastChanged(ctx context.Context, roomID string) (*models.RoomChange, error)
}

type NotificationSink interface {
	PushNotification(ctx context.Context, text string) error
	Recent(ctx context.Context, n int) ([]models.StoredNotification, error)
}
