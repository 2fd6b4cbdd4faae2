package providers

import (
	"context"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
)

// SendLogStore keeps the per-account send timestamps the rate limiter reads.
// Entries older than 24h may be discarded.
type SendLogStore interface {
	// Append records a send at `at` and the earliest time the next send is allowed
	Append(ctx context.Context, accountID string, at, nextAllowedAt time.Time) error

	// Load returns sends at or after since, oldest first
	Load(ctx context.Context, accountID string, since time.Time) (entities.SendLog, error)

	// Reset forgets the account's history
	Reset(ctx context.Context, accountID string) error

	// AcquireLease grants one holder the account's send queue for ttl.
	// ok is false while another holder has it.
	AcquireLease(ctx context.Context, accountID string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLease drops the lease if token still holds it
	ReleaseLease(ctx context.Context, accountID, token string) error
}

// PolicySource resolves the rate-limit policy that applies to a sender account
type PolicySource interface {
	PolicyFor(ctx context.Context, accountID string) (entities.RateLimitPolicy, error)
}
