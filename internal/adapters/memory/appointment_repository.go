package memory

import (
	"context"
	"sort"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// AppointmentRepository implements repositories.AppointmentRepository
type AppointmentRepository struct {
	store *Store
}

var _ repositories.AppointmentRepository = (*AppointmentRepository)(nil)

// Claim checks for overlaps, spends an SOS ticket when asked and inserts,
// all under the store lock.
func (r *AppointmentRepository) Claim(ctx context.Context, appointment *entities.Appointment, consumeSOS bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.appointments {
		if existing.CommunityID == appointment.CommunityID && existing.IsActive() &&
			existing.Overlaps(appointment.AppointmentDate, appointment.End()) {
			return apperrors.NewSlotUnavailableError("slot already booked")
		}
	}

	if consumeSOS {
		sub := r.store.activeSubscription(appointment.UserID, appointment.CommunityID)
		if !sub.HasSosCredit() {
			return apperrors.NewSosCreditExhaustedError("no SOS tickets left")
		}
		sub.SosTicketsUsed++
		sub.UpdatedAt = appointment.CreatedAt
	}

	cp := *appointment
	r.store.appointments[appointment.ID] = &cp
	return nil
}

// GetByID retrieves an appointment by ID
func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	appt, ok := r.store.appointments[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("appointment not found")
	}
	cp := *appt
	return &cp, nil
}

// UpdateStatus moves an appointment from one status to another
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, from, to entities.AppointmentStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	appt, ok := r.store.appointments[id]
	if !ok {
		return apperrors.NewNotFoundError("appointment not found")
	}
	if appt.Status != from {
		return apperrors.NewConflictError("appointment status changed concurrently")
	}
	appt.Status = to
	appt.UpdatedAt = time.Now()
	return nil
}

// MarkWhatsAppSent flags the booking notification as delivered
func (r *AppointmentRepository) MarkWhatsAppSent(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	appt, ok := r.store.appointments[id]
	if !ok {
		return apperrors.NewNotFoundError("appointment not found")
	}
	appt.WhatsAppSent = true
	return nil
}

// ListActiveBetween returns non-cancelled appointments starting in [from, to)
func (r *AppointmentRepository) ListActiveBetween(ctx context.Context, communityID string, from, to time.Time) ([]*entities.Appointment, error) {
	return r.list(func(a *entities.Appointment) bool {
		return a.CommunityID == communityID && a.IsActive() &&
			!a.AppointmentDate.Before(from) && a.AppointmentDate.Before(to)
	}, 0, 0), nil
}

// List retrieves appointments matching the filter, earliest first
func (r *AppointmentRepository) List(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	return r.list(func(a *entities.Appointment) bool {
		switch {
		case filter.UserID != "" && a.UserID != filter.UserID:
			return false
		case filter.CommunityID != "" && a.CommunityID != filter.CommunityID:
			return false
		case filter.Status != "" && a.Status != filter.Status:
			return false
		case filter.From != nil && a.AppointmentDate.Before(*filter.From):
			return false
		case filter.To != nil && !a.AppointmentDate.Before(*filter.To):
			return false
		}
		return true
	}, filter.Limit, filter.Offset), nil
}

func (r *AppointmentRepository) list(match func(*entities.Appointment) bool, limit, offset int) []*entities.Appointment {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := []*entities.Appointment{}
	for _, appt := range r.store.appointments {
		if match(appt) {
			cp := *appt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentDate.Equal(out[j].AppointmentDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].AppointmentDate.Before(out[j].AppointmentDate)
	})

	if offset > 0 {
		if offset >= len(out) {
			return []*entities.Appointment{}
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
