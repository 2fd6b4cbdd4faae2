package entities

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the calendar date format used across the API
	DateLayout = "2006-01-02"
	// ClockLayout is the wall-clock format for window bounds and slots
	ClockLayout = "15:04"
	// EndOfDay closes a window at midnight; it is only valid as an end time
	EndOfDay = "24:00"
)

// AvailabilityWindow is a recurring weekly range during which a specialist accepts bookings.
// DayOfWeek follows time.Weekday: 0=Sunday ... 6=Saturday.
type AvailabilityWindow struct {
	ID          string    `json:"id" db:"id"`
	CommunityID string    `json:"community_id" db:"community_id"`
	DayOfWeek   int       `json:"day_of_week" db:"day_of_week"`
	StartTime   string    `json:"start_time" db:"start_time"`
	EndTime     string    `json:"end_time" db:"end_time"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Bounds returns the window's start and end as minutes since midnight.
// EndTime may be EndOfDay (1440); windows that cross midnight are rejected.
func (w *AvailabilityWindow) Bounds() (start, end int, err error) {
	if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
		return 0, 0, fmt.Errorf("day_of_week must be between 0 and 6, got %d", w.DayOfWeek)
	}
	if start, err = ParseClock(w.StartTime); err != nil {
		return 0, 0, err
	}
	if w.EndTime == EndOfDay {
		end = 24 * 60
	} else if end, err = ParseClock(w.EndTime); err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("window %s-%s must end after it starts on the same day", w.StartTime, w.EndTime)
	}
	return start, end, nil
}

// BlockedDate excludes a specific calendar day from availability
type BlockedDate struct {
	ID          string    `json:"id" db:"id"`
	CommunityID string    `json:"community_id" db:"community_id"`
	Date        string    `json:"date" db:"date"`
	Reason      string    `json:"reason" db:"reason"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TimeSlot is one bookable unit on a given day. Booked or past slots are
// returned with Available=false.
type TimeSlot struct {
	Time      string    `json:"time"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// SchedulingSettings holds per-community scheduling preferences and the
// specialist's contact for booking notifications.
type SchedulingSettings struct {
	CommunityID        string    `json:"community_id" db:"community_id"`
	SpecialistName     string    `json:"specialist_name" db:"specialist_name"`
	SpecialistWhatsApp string    `json:"specialist_whatsapp" db:"specialist_whatsapp"`
	SenderAccountID    string    `json:"sender_account_id" db:"sender_account_id"`
	SlotMinutes        int       `json:"slot_minutes" db:"slot_minutes"`
	Timezone           string    `json:"timezone" db:"timezone"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// ParseClock parses "HH:MM" into minutes since midnight
func ParseClock(value string) (int, error) {
	t, err := time.Parse(ClockLayout, value)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as "HH:MM"
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a "YYYY-MM-DD" calendar date at midnight in loc
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return d, nil
}
