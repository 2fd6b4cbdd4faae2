package entities

import (
	"time"
)

const (
	// DefaultAppointmentDuration is used when a booking request omits a duration (minutes).
	DefaultAppointmentDuration = 60
	// MaxAppointmentDuration caps a booking at one day (minutes); windows never cross midnight.
	MaxAppointmentDuration = 24 * 60
)

// AppointmentType distinguishes regular bookings from SOS bookings
type AppointmentType string

const (
	AppointmentTypeRegular AppointmentType = "regular"
	AppointmentTypeSOS     AppointmentType = "sos"
)

// Valid reports whether t is a known appointment type
func (t AppointmentType) Valid() bool {
	return t == AppointmentTypeRegular || t == AppointmentTypeSOS
}

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusScheduled: {AppointmentStatusConfirmed, AppointmentStatusCompleted, AppointmentStatusCancelled},
	AppointmentStatusConfirmed: {AppointmentStatusCompleted, AppointmentStatusCancelled},
}

// Valid reports whether s is a known status
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether an appointment in status s may move to next.
// Completed and cancelled are terminal.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Appointment is a booking with a community's specialist
type Appointment struct {
	ID              string            `json:"id" db:"id"`
	UserID          string            `json:"user_id" db:"user_id"`
	CommunityID     string            `json:"community_id" db:"community_id"`
	AppointmentDate time.Time         `json:"appointment_date" db:"appointment_date"`
	Duration        int               `json:"duration" db:"duration"`
	Type            AppointmentType   `json:"type" db:"type"`
	Status          AppointmentStatus `json:"status" db:"status"`
	Notes           string            `json:"notes" db:"notes"`
	WhatsAppSent    bool              `json:"whatsapp_sent" db:"whatsapp_sent"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// End returns the instant the appointment finishes. Durations beyond
// MaxAppointmentDuration are clamped to it.
func (a *Appointment) End() time.Time {
	d := a.Duration
	if d <= 0 {
		d = DefaultAppointmentDuration
	}
	if d > MaxAppointmentDuration {
		d = MaxAppointmentDuration
	}
	return a.AppointmentDate.Add(time.Duration(d) * time.Minute)
}

// IsActive reports whether the appointment still holds its slot
func (a *Appointment) IsActive() bool {
	return a.Status != AppointmentStatusCancelled
}

// Overlaps reports whether the appointment's range intersects [start, end)
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.AppointmentDate.Before(end) && a.End().After(start)
}
