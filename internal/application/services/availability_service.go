package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// AvailabilityService computes bookable slots from weekly windows, blocked
// dates and existing appointments, and manages the admin side of both.
type AvailabilityService struct {
	repo         repositories.AvailabilityRepository
	appointments repositories.AppointmentRepository
	settings     repositories.SettingsRepository
	defaults     SchedulingDefaults
	now          func() time.Time
	logger       zerolog.Logger
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(
	repo repositories.AvailabilityRepository,
	appointments repositories.AppointmentRepository,
	settings repositories.SettingsRepository,
	defaults SchedulingDefaults,
	logger zerolog.Logger,
) *AvailabilityService {
	return &AvailabilityService{
		repo:         repo,
		appointments: appointments,
		settings:     settings,
		defaults:     defaults,
		now:          time.Now,
		logger:       logger.With().Str("component", "availability").Logger(),
	}
}

// WithClock replaces the wall clock, for tests
func (s *AvailabilityService) WithClock(now func() time.Time) *AvailabilityService {
	s.now = now
	return s
}

// dayPlan is everything known about one community day: the window ranges
// in community time and the appointments already holding slots.
type dayPlan struct {
	day     time.Time
	slot    time.Duration
	windows []timeRange
	booked  []*entities.Appointment
	// closed is set for past or blocked days and days without windows
	closed bool
}

type timeRange struct {
	start time.Time
	end   time.Time
}

// GetAvailableSlots returns the day's slots annotated with availability.
// Past days, blocked days and days without an active window yield an empty list.
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, communityID, date string) ([]entities.TimeSlot, error) {
	if strings.TrimSpace(communityID) == "" {
		return nil, apperrors.NewValidationError("community id is required")
	}

	sched, err := resolveSchedule(ctx, s.settings, s.defaults, communityID)
	if err != nil {
		return nil, err
	}

	plan, err := s.planDay(ctx, sched, date)
	if err != nil {
		return nil, err
	}

	return plan.slots(s.now()), nil
}

func (s *AvailabilityService) planDay(ctx context.Context, sched *communitySchedule, date string) (*dayPlan, error) {
	day, err := entities.ParseDate(date, sched.Location)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	plan := &dayPlan{day: day, slot: sched.Slot}

	now := s.now().In(sched.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, sched.Location)
	if day.Before(today) {
		plan.closed = true
		return plan, nil
	}

	blocked, err := s.repo.IsBlocked(ctx, sched.CommunityID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to check blocked dates: %w", err)
	}
	if blocked {
		plan.closed = true
		return plan, nil
	}

	windows, err := s.repo.ListWindows(ctx, sched.CommunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load availability windows: %w", err)
	}

	weekday := int(day.Weekday())
	for i := range windows {
		w := &windows[i]
		if !w.IsActive || w.DayOfWeek != weekday {
			continue
		}
		startMin, endMin, err := w.Bounds()
		if err != nil {
			s.logger.Warn().Err(err).Str("community_id", sched.CommunityID).Str("window_id", w.ID).Msg("skipping invalid availability window")
			continue
		}
		plan.windows = append(plan.windows, timeRange{
			start: atMinute(day, startMin),
			end:   atMinute(day, endMin),
		})
	}
	if len(plan.windows) == 0 {
		plan.closed = true
		return plan, nil
	}
	sort.Slice(plan.windows, func(i, j int) bool {
		return plan.windows[i].start.Before(plan.windows[j].start)
	})

	plan.booked, err = s.appointments.ListActiveBetween(ctx, sched.CommunityID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to load appointments: %w", err)
	}

	return plan, nil
}

// atMinute builds the wall-clock instant, so DST days keep their labels
func atMinute(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
}

func (p *dayPlan) slots(now time.Time) []entities.TimeSlot {
	slots := []entities.TimeSlot{}
	if p.closed {
		return slots
	}

	seen := make(map[int64]bool)
	for _, w := range p.windows {
		for start := w.start; !start.Add(p.slot).After(w.end); start = start.Add(p.slot) {
			if seen[start.Unix()] {
				continue
			}
			seen[start.Unix()] = true
			end := start.Add(p.slot)
			slots = append(slots, entities.TimeSlot{
				Time:      start.Format(entities.ClockLayout),
				Start:     start,
				End:       end,
				Available: start.After(now) && !p.isBooked(start, end),
			})
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
	return slots
}

func (p *dayPlan) isBooked(start, end time.Time) bool {
	for _, appt := range p.booked {
		if appt.IsActive() && appt.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// windowFor returns the window containing start, if any
func (p *dayPlan) windowFor(start time.Time) (timeRange, bool) {
	for _, w := range p.windows {
		if !start.Before(w.start) && start.Before(w.end) {
			return w, true
		}
	}
	return timeRange{}, false
}

// slotAt returns the generated slot that begins at start
func (p *dayPlan) slotAt(start time.Time, now time.Time) (entities.TimeSlot, bool) {
	for _, slot := range p.slots(now) {
		if slot.Start.Equal(start) {
			return slot, true
		}
	}
	return entities.TimeSlot{}, false
}

// ListWindows returns the community's weekly schedule
func (s *AvailabilityService) ListWindows(ctx context.Context, communityID string) ([]entities.AvailabilityWindow, error) {
	windows, err := s.repo.ListWindows(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if windows == nil {
		windows = []entities.AvailabilityWindow{}
	}
	return windows, nil
}

// ReplaceWindows validates and stores a full weekly schedule
func (s *AvailabilityService) ReplaceWindows(ctx context.Context, communityID string, windows []entities.AvailabilityWindow) ([]entities.AvailabilityWindow, error) {
	if strings.TrimSpace(communityID) == "" {
		return nil, apperrors.NewValidationError("community id is required")
	}

	now := s.now()
	for i := range windows {
		w := &windows[i]
		if _, _, err := w.Bounds(); err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("window %d: %v", i, err))
		}
		if w.ID == "" {
			w.ID = uuid.New().String()
		}
		w.CommunityID = communityID
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		w.UpdatedAt = now
	}

	if err := s.repo.ReplaceWindows(ctx, communityID, windows); err != nil {
		return nil, err
	}

	s.logger.Info().Str("community_id", communityID).Int("windows", len(windows)).Msg("availability windows replaced")
	return windows, nil
}

// ListBlockedDates returns blocked dates in [from, to]; empty bounds are open
func (s *AvailabilityService) ListBlockedDates(ctx context.Context, communityID, from, to string) ([]entities.BlockedDate, error) {
	for _, bound := range []string{from, to} {
		if bound == "" {
			continue
		}
		if _, err := entities.ParseDate(bound, time.UTC); err != nil {
			return nil, apperrors.NewValidationError(err.Error())
		}
	}

	dates, err := s.repo.ListBlockedDates(ctx, communityID, from, to)
	if err != nil {
		return nil, err
	}
	if dates == nil {
		dates = []entities.BlockedDate{}
	}
	return dates, nil
}

// BlockDate excludes a day from availability
func (s *AvailabilityService) BlockDate(ctx context.Context, communityID, date, reason string) (*entities.BlockedDate, error) {
	if strings.TrimSpace(communityID) == "" {
		return nil, apperrors.NewValidationError("community id is required")
	}
	if _, err := entities.ParseDate(date, time.UTC); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	blocked := &entities.BlockedDate{
		ID:          uuid.New().String(),
		CommunityID: communityID,
		Date:        date,
		Reason:      strings.TrimSpace(reason),
		CreatedAt:   s.now(),
	}
	if err := s.repo.AddBlockedDate(ctx, blocked); err != nil {
		return nil, err
	}
	return blocked, nil
}

// UnblockDate removes a blocked date
func (s *AvailabilityService) UnblockDate(ctx context.Context, communityID, date string) error {
	if _, err := entities.ParseDate(date, time.UTC); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	return s.repo.RemoveBlockedDate(ctx, communityID, date)
}

// GetSettings returns the community's scheduling settings, with defaults for
// communities that never stored any.
func (s *AvailabilityService) GetSettings(ctx context.Context, communityID string) (*entities.SchedulingSettings, error) {
	settings, err := s.settings.GetSchedulingSettings(ctx, communityID)
	if err == nil {
		return settings, nil
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, err
	}

	loc := s.defaults.Location
	if loc == nil {
		loc = time.UTC
	}
	return &entities.SchedulingSettings{
		CommunityID:     communityID,
		SenderAccountID: s.defaults.SenderAccountID,
		SlotMinutes:     s.defaults.SlotMinutes,
		Timezone:        loc.String(),
	}, nil
}

// UpdateSettings validates and stores scheduling settings
func (s *AvailabilityService) UpdateSettings(ctx context.Context, settings *entities.SchedulingSettings) error {
	if strings.TrimSpace(settings.CommunityID) == "" {
		return apperrors.NewValidationError("community id is required")
	}
	if settings.SlotMinutes < 0 || settings.SlotMinutes > 24*60 {
		return apperrors.NewValidationError("slot_minutes must be between 1 and 1440")
	}
	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("unknown timezone %q", settings.Timezone))
		}
	}
	settings.SpecialistWhatsApp = normalizePhone(settings.SpecialistWhatsApp)
	settings.UpdatedAt = s.now()

	return s.settings.UpsertSchedulingSettings(ctx, settings)
}

// normalizePhone keeps digits only, the form every WhatsApp bridge accepts
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
