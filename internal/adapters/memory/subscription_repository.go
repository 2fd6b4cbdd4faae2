package memory

import (
	"context"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// SubscriptionRepository implements repositories.SubscriptionRepository
type SubscriptionRepository struct {
	store *Store
}

var _ repositories.SubscriptionRepository = (*SubscriptionRepository)(nil)

// GetActive returns the user's active subscription in the community
func (r *SubscriptionRepository) GetActive(ctx context.Context, userID, communityID string) (*entities.UserSubscription, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sub := r.store.activeSubscription(userID, communityID)
	if sub == nil {
		return nil, apperrors.NewNotFoundError("active subscription not found")
	}
	cp := *sub
	return &cp, nil
}

// activeSubscription must be called with mu held
func (s *Store) activeSubscription(userID, communityID string) *entities.UserSubscription {
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.CommunityID == communityID && sub.Status == entities.SubscriptionStatusActive {
			return sub
		}
	}
	return nil
}
