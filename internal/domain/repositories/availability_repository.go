package repositories

import (
	"context"

	"github.com/metacircle/backend/internal/domain/entities"
)

// AvailabilityRepository stores recurring windows and blocked dates
type AvailabilityRepository interface {
	// ListWindows returns every window of a community, active or not
	ListWindows(ctx context.Context, communityID string) ([]entities.AvailabilityWindow, error)

	// ReplaceWindows swaps the community's weekly schedule in one transaction
	ReplaceWindows(ctx context.Context, communityID string, windows []entities.AvailabilityWindow) error

	// ListBlockedDates returns blocked dates in [from, to] (YYYY-MM-DD, inclusive); empty bounds are open
	ListBlockedDates(ctx context.Context, communityID, from, to string) ([]entities.BlockedDate, error)

	// IsBlocked reports whether the date is blocked for the community
	IsBlocked(ctx context.Context, communityID, date string) (bool, error)

	// AddBlockedDate blocks a date; blocking an already blocked date is a conflict
	AddBlockedDate(ctx context.Context, blocked *entities.BlockedDate) error

	// RemoveBlockedDate unblocks a date
	RemoveBlockedDate(ctx context.Context, communityID, date string) error
}
