package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/observability"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// ScheduleRequest is a booking request as submitted by a member
type ScheduleRequest struct {
	UserID      string
	CommunityID string
	Date        string // YYYY-MM-DD in the community timezone
	Time        string // HH:MM
	Type        entities.AppointmentType
	Notes       string
	Duration    int // minutes, defaults to 60
}

// AppointmentService handles appointment booking logic
type AppointmentService struct {
	repo          repositories.AppointmentRepository
	subscriptions repositories.SubscriptionRepository
	availability  *AvailabilityService
	notifications *NotificationService
	events        providers.EventBus
	metrics       *observability.Metrics
	now           func() time.Time
	logger        zerolog.Logger
}

// NewAppointmentService creates a new appointment service.
// events and metrics may be nil.
func NewAppointmentService(
	repo repositories.AppointmentRepository,
	subscriptions repositories.SubscriptionRepository,
	availability *AvailabilityService,
	notifications *NotificationService,
	events providers.EventBus,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *AppointmentService {
	return &AppointmentService{
		repo:          repo,
		subscriptions: subscriptions,
		availability:  availability,
		notifications: notifications,
		events:        events,
		metrics:       metrics,
		now:           time.Now,
		logger:        logger.With().Str("component", "appointments").Logger(),
	}
}

// WithClock replaces the wall clock, for tests. The availability service
// must be given the same clock.
func (s *AppointmentService) WithClock(now func() time.Time) *AppointmentService {
	s.now = now
	return s
}

// ScheduleAppointment books a slot. The slot must be offered as available,
// the booking must end inside its window, and SOS bookings need a remaining
// credit. The final claim is atomic in the store; notification and event
// failures are logged and never undo the booking.
func (s *AppointmentService) ScheduleAppointment(ctx context.Context, req ScheduleRequest) (*entities.Appointment, error) {
	ctx, span := observability.StartSpan(ctx, "AppointmentService.ScheduleAppointment")
	defer span.End()

	appt, sched, err := s.schedule(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		reason := string(apperrors.TypeOf(err))
		if reason == "" {
			reason = string(apperrors.ErrorTypeInternal)
		}
		observability.Count(ctx, s.metrics, func(m *observability.Metrics) metric.Int64Counter { return m.AppointmentsRejected },
			attribute.String("reason", reason))
		return nil, err
	}

	observability.Count(ctx, s.metrics, func(m *observability.Metrics) metric.Int64Counter { return m.AppointmentsScheduled },
		attribute.String("type", string(appt.Type)))

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("community_id", appt.CommunityID).
		Str("user_id", appt.UserID).
		Str("type", string(appt.Type)).
		Time("start", appt.AppointmentDate).
		Msg("appointment scheduled")

	if err := s.notifications.notifyAppointment(ctx, entities.NotificationAppointmentScheduled, appt, sched); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to queue specialist notification")
	}
	s.publish(ctx, entities.AppointmentEventScheduled, appt, sched)

	return appt, nil
}

func (s *AppointmentService) schedule(ctx context.Context, req ScheduleRequest) (*entities.Appointment, *communitySchedule, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, nil, apperrors.NewValidationError("user id is required")
	}
	if strings.TrimSpace(req.CommunityID) == "" {
		return nil, nil, apperrors.NewValidationError("community id is required")
	}
	if req.Type == "" {
		req.Type = entities.AppointmentTypeRegular
	}
	if !req.Type.Valid() {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("unknown appointment type %q", req.Type))
	}
	if req.Duration == 0 {
		req.Duration = entities.DefaultAppointmentDuration
	}
	if req.Duration < 0 {
		return nil, nil, apperrors.NewValidationError("duration must be positive")
	}
	if req.Duration > entities.MaxAppointmentDuration {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("duration must be at most %d minutes", entities.MaxAppointmentDuration))
	}
	minute, err := entities.ParseClock(req.Time)
	if err != nil {
		return nil, nil, apperrors.NewValidationError(err.Error())
	}

	sched, err := resolveSchedule(ctx, s.availability.settings, s.availability.defaults, req.CommunityID)
	if err != nil {
		return nil, nil, err
	}

	plan, err := s.availability.planDay(ctx, sched, req.Date)
	if err != nil {
		return nil, nil, err
	}
	if plan.closed {
		return nil, nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("no availability on %s", req.Date))
	}

	now := s.now()
	start := atMinute(plan.day, minute)
	slot, ok := plan.slotAt(start, now)
	if !ok {
		return nil, nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("%s %s is outside the specialist's availability", req.Date, req.Time))
	}
	if !slot.Available {
		return nil, nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("%s %s is no longer available", req.Date, req.Time))
	}

	end := start.Add(time.Duration(req.Duration) * time.Minute)
	window, _ := plan.windowFor(start)
	if end.After(window.end) {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("a %d minute appointment at %s runs past the window end %s",
			req.Duration, req.Time, window.end.Format(entities.ClockLayout)))
	}
	if plan.isBooked(start, end) {
		return nil, nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("%s %s overlaps an existing appointment", req.Date, req.Time))
	}

	if req.Type == entities.AppointmentTypeSOS {
		if err := s.checkSosCredit(ctx, req.UserID, req.CommunityID); err != nil {
			return nil, nil, err
		}
	}

	appt := &entities.Appointment{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		CommunityID:     req.CommunityID,
		AppointmentDate: start,
		Duration:        req.Duration,
		Type:            req.Type,
		Status:          entities.AppointmentStatusScheduled,
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Claim(ctx, appt, req.Type == entities.AppointmentTypeSOS); err != nil {
		return nil, nil, err
	}
	return appt, sched, nil
}

func (s *AppointmentService) checkSosCredit(ctx context.Context, userID, communityID string) error {
	sub, err := s.subscriptions.GetActive(ctx, userID, communityID)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return apperrors.NewSosCreditExhaustedError("an active subscription is required for SOS appointments")
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if !sub.HasSosCredit() {
		return apperrors.NewSosCreditExhaustedError(fmt.Sprintf("all %d SOS tickets have been used", sub.SosTicketsTotal))
	}
	return nil
}

// CancelAppointment cancels a member's own appointment before it starts.
// SOS credits are not restored.
func (s *AppointmentService) CancelAppointment(ctx context.Context, id, userID string) (*entities.Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && appt.UserID != userID {
		return nil, apperrors.NewNotFoundError("appointment not found")
	}
	if !appt.Status.CanTransitionTo(entities.AppointmentStatusCancelled) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("a %s appointment cannot be cancelled", appt.Status))
	}
	if !s.now().Before(appt.AppointmentDate) {
		return nil, apperrors.NewValidationError("appointments can only be cancelled before they start")
	}

	if err := s.transition(ctx, appt, entities.AppointmentStatusCancelled); err != nil {
		return nil, err
	}
	observability.Count(ctx, s.metrics, func(m *observability.Metrics) metric.Int64Counter { return m.AppointmentsCancelled })
	return appt, nil
}

// UpdateStatus moves an appointment along its lifecycle (admin)
func (s *AppointmentService) UpdateStatus(ctx context.Context, id string, status entities.AppointmentStatus) (*entities.Appointment, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown status %q", status))
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransitionTo(status) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("cannot move appointment from %s to %s", appt.Status, status))
	}

	if err := s.transition(ctx, appt, status); err != nil {
		return nil, err
	}
	return appt, nil
}

// transition persists the status change, then notifies and publishes
func (s *AppointmentService) transition(ctx context.Context, appt *entities.Appointment, to entities.AppointmentStatus) error {
	from := appt.Status
	if err := s.repo.UpdateStatus(ctx, appt.ID, from, to); err != nil {
		return err
	}
	appt.Status = to
	appt.UpdatedAt = s.now()

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("appointment status changed")

	sched, err := resolveSchedule(ctx, s.availability.settings, s.availability.defaults, appt.CommunityID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to resolve scheduling settings")
		return nil
	}

	eventType := entities.AppointmentEventUpdated
	var kind entities.NotificationKind
	switch to {
	case entities.AppointmentStatusCancelled:
		eventType = entities.AppointmentEventCancelled
		kind = entities.NotificationAppointmentCancelled
	case entities.AppointmentStatusConfirmed:
		kind = entities.NotificationAppointmentConfirmed
	}

	if kind != "" {
		if err := s.notifications.notifyAppointment(ctx, kind, appt, sched); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to queue status notification")
		}
	}
	s.publish(ctx, eventType, appt, sched)
	return nil
}

// GetAppointment returns an appointment; a non-empty userID restricts it to its owner
func (s *AppointmentService) GetAppointment(ctx context.Context, id, userID string) (*entities.Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && appt.UserID != userID {
		return nil, apperrors.NewNotFoundError("appointment not found")
	}
	return appt, nil
}

// ListAppointments lists appointments matching filter
func (s *AppointmentService) ListAppointments(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	if filter.UserID == "" && filter.CommunityID == "" {
		return nil, apperrors.NewValidationError("user or community filter is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*entities.Appointment{}
	}
	return list, nil
}

func (s *AppointmentService) publish(ctx context.Context, eventType entities.AppointmentEventType, appt *entities.Appointment, sched *communitySchedule) {
	if s.events == nil {
		return
	}
	local := appt.AppointmentDate.In(sched.Location)
	event := &entities.AppointmentEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		CommunityID:   appt.CommunityID,
		AppointmentID: appt.ID,
		Date:          local.Format(entities.DateLayout),
		Time:          local.Format(entities.ClockLayout),
		Status:        appt.Status,
		OccurredAt:    s.now(),
	}
	if err := s.events.Publish(ctx, providers.GetCalendarChannel(appt.CommunityID), event); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appt.ID).Msg("failed to publish calendar event")
	}
}
