package repositories

import (
	"context"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
)

// NotificationRepository is the persistent outbound WhatsApp queue
type NotificationRepository interface {
	// Enqueue stores a pending notification
	Enqueue(ctx context.Context, notification *entities.OutboundNotification) error

	// DueAccounts lists sender accounts with pending or deferred messages due at now
	DueAccounts(ctx context.Context, now time.Time) ([]string, error)

	// ClaimNext marks the oldest due message of an account as sending and
	// returns it. Returns nil, nil when nothing is due.
	ClaimNext(ctx context.Context, accountID string, now time.Time) (*entities.OutboundNotification, error)

	// Defer pushes every due message of the account to until
	Defer(ctx context.Context, accountID string, until time.Time) (int64, error)

	MarkSent(ctx context.Context, id, messageID string, at time.Time) error

	// MarkRetry records a failed attempt and schedules the next one
	MarkRetry(ctx context.Context, id, reason string, next time.Time) error

	MarkFailed(ctx context.Context, id, reason string) error

	List(ctx context.Context, filter NotificationFilter) ([]*entities.OutboundNotification, error)
}

// NotificationFilter narrows queue listings for the admin view
type NotificationFilter struct {
	AccountID string
	Status    entities.NotificationStatus
	Limit     int
}
