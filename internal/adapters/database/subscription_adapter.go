package database

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// SubscriptionAdapter implements repositories.SubscriptionRepository
type SubscriptionAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSubscriptionAdapter creates a new subscription adapter
func NewSubscriptionAdapter(client *postgres.Client) repositories.SubscriptionRepository {
	return &SubscriptionAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// GetActive returns the user's active subscription in the community
func (a *SubscriptionAdapter) GetActive(ctx context.Context, userID, communityID string) (*entities.UserSubscription, error) {
	query, args, err := a.db.Select(
		"id", "user_id", "community_id", "status", "sos_tickets_used", "sos_tickets_total", "created_at", "updated_at",
	).
		From("user_subscriptions").
		Where(goqu.Ex{
			"user_id":      userID,
			"community_id": communityID,
			"status":       entities.SubscriptionStatusActive,
		}).
		Order(goqu.C("created_at").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	sub := &entities.UserSubscription{}
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&sub.ID, &sub.UserID, &sub.CommunityID, &sub.Status,
		&sub.SosTicketsUsed, &sub.SosTicketsTotal, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("active subscription not found")
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get subscription", err)
	}
	return sub, nil
}
