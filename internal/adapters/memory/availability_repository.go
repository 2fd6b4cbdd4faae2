package memory

import (
	"context"
	"sort"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// AvailabilityRepository implements repositories.AvailabilityRepository
type AvailabilityRepository struct {
	store *Store
}

var _ repositories.AvailabilityRepository = (*AvailabilityRepository)(nil)

// ListWindows returns the community's windows ordered by day and start
func (r *AvailabilityRepository) ListWindows(ctx context.Context, communityID string) ([]entities.AvailabilityWindow, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := append([]entities.AvailabilityWindow{}, r.store.windows[communityID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// ReplaceWindows swaps the schedule
func (r *AvailabilityRepository) ReplaceWindows(ctx context.Context, communityID string, windows []entities.AvailabilityWindow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.windows[communityID] = append([]entities.AvailabilityWindow{}, windows...)
	return nil
}

// ListBlockedDates returns blocked dates in [from, to]
func (r *AvailabilityRepository) ListBlockedDates(ctx context.Context, communityID, from, to string) ([]entities.BlockedDate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := []entities.BlockedDate{}
	for date, blocked := range r.store.blocked[communityID] {
		// YYYY-MM-DD compares chronologically as a string
		if (from != "" && date < from) || (to != "" && date > to) {
			continue
		}
		out = append(out, blocked)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// IsBlocked reports whether the date is blocked
func (r *AvailabilityRepository) IsBlocked(ctx context.Context, communityID, date string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, ok := r.store.blocked[communityID][date]
	return ok, nil
}

// AddBlockedDate blocks a date
func (r *AvailabilityRepository) AddBlockedDate(ctx context.Context, blocked *entities.BlockedDate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	dates := r.store.blocked[blocked.CommunityID]
	if dates == nil {
		dates = make(map[string]entities.BlockedDate)
		r.store.blocked[blocked.CommunityID] = dates
	}
	if _, exists := dates[blocked.Date]; exists {
		return apperrors.NewConflictError("date is already blocked")
	}
	dates[blocked.Date] = *blocked
	return nil
}

// RemoveBlockedDate unblocks a date
func (r *AvailabilityRepository) RemoveBlockedDate(ctx context.Context, communityID, date string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.blocked[communityID][date]; !ok {
		return apperrors.NewNotFoundError("blocked date not found")
	}
	delete(r.store.blocked[communityID], date)
	return nil
}
