package repositories

import (
	"context"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
)

// AppointmentRepository defines the interface for appointment data operations
type AppointmentRepository interface {
	// Claim atomically checks that the appointment's range is free for its
	// community and inserts it. When consumeSOS is set the user's SOS ticket is
	// spent in the same transaction. Returns SLOT_UNAVAILABLE or
	// SOS_CREDIT_EXHAUSTED app errors when the claim loses.
	Claim(ctx context.Context, appointment *entities.Appointment, consumeSOS bool) error

	// GetByID retrieves an appointment by ID
	GetByID(ctx context.Context, id string) (*entities.Appointment, error)

	// UpdateStatus moves an appointment from one status to another. It fails
	// with a conflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to entities.AppointmentStatus) error

	// MarkWhatsAppSent flags that the booking notification went out
	MarkWhatsAppSent(ctx context.Context, id string) error

	// ListActiveBetween returns non-cancelled appointments of a community starting in [from, to)
	ListActiveBetween(ctx context.Context, communityID string, from, to time.Time) ([]*entities.Appointment, error)

	// List retrieves appointments matching the filter
	List(ctx context.Context, filter AppointmentFilter) ([]*entities.Appointment, error)
}

// AppointmentFilter defines filters for listing appointments
type AppointmentFilter struct {
	UserID      string
	CommunityID string
	Status      entities.AppointmentStatus
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}
