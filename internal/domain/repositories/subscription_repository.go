package repositories

import (
	"context"

	"github.com/metacircle/backend/internal/domain/entities"
)

// SubscriptionRepository reads member subscriptions
type SubscriptionRepository interface {
	// GetActive returns the user's active subscription in the community, or a not found error
	GetActive(ctx context.Context, userID, communityID string) (*entities.UserSubscription, error)
}
