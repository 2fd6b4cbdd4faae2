package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// NotificationService queues outbound WhatsApp messages. Delivery is the
// Dispatcher's job; nothing here talks to a bridge.
type NotificationService struct {
	repo      repositories.NotificationRepository
	settings  repositories.SettingsRepository
	defaults  SchedulingDefaults
	templates map[entities.NotificationKind]string
	now       func() time.Time
	logger    zerolog.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	repo repositories.NotificationRepository,
	settings repositories.SettingsRepository,
	defaults SchedulingDefaults,
	logger zerolog.Logger,
) *NotificationService {
	templates := make(map[entities.NotificationKind]string, len(defaultTemplates))
	for kind, body := range defaultTemplates {
		templates[kind] = body
	}
	return &NotificationService{
		repo:      repo,
		settings:  settings,
		defaults:  defaults,
		templates: templates,
		now:       time.Now,
		logger:    logger.With().Str("component", "notifications").Logger(),
	}
}

// WithClock replaces the wall clock, for tests
func (n *NotificationService) WithClock(now func() time.Time) *NotificationService {
	n.now = now
	return n
}

var defaultTemplates = map[entities.NotificationKind]string{
	entities.NotificationAppointmentScheduled: "Novo agendamento{{#if specialist_name}} para {{specialist_name}}{{/if}}: {{appointment_type}} em {{scheduled_date}} às {{scheduled_time}}.{{#if notes}} Observações: {{notes}}{{/if}}",
	entities.NotificationAppointmentConfirmed: "Agendamento confirmado: {{scheduled_date}} às {{scheduled_time}}.",
	entities.NotificationAppointmentCancelled: "Agendamento cancelado: {{appointment_type}} em {{scheduled_date}} às {{scheduled_time}}.",
	entities.NotificationCommunityPost:        "Nova publicação de {{author_name}}: {{title}}{{#if link}} {{link}}{{/if}}",
	entities.NotificationCommunityComment:     "{{author_name}} comentou: {{title}}{{#if link}} {{link}}{{/if}}",
	entities.NotificationCommunityEvent:       "Novo evento: {{title}}{{#if link}} {{link}}{{/if}}",
}

// NotificationContext contains all data needed for notification rendering
type NotificationContext struct {
	SpecialistName  string
	AppointmentType string
	ScheduledDate   string
	ScheduledTime   string
	Notes           string
	Title           string
	AuthorName      string
	Link            string
}

// Enqueue validates and stores a pending message
func (n *NotificationService) Enqueue(ctx context.Context, notification *entities.OutboundNotification) error {
	notification.Recipient = normalizePhone(notification.Recipient)
	if notification.Recipient == "" {
		return apperrors.NewValidationError("recipient phone number is required")
	}
	if strings.TrimSpace(notification.Body) == "" {
		return apperrors.NewValidationError("message body is required")
	}
	if notification.AccountID == "" {
		return apperrors.NewValidationError("sender account is required")
	}

	now := n.now()
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	notification.Status = entities.NotificationStatusPending
	notification.Attempts = 0
	notification.NextAttemptAt = now
	notification.CreatedAt = now
	notification.UpdatedAt = now

	if err := n.repo.Enqueue(ctx, notification); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	n.logger.Debug().
		Str("notification_id", notification.ID).
		Str("account_id", notification.AccountID).
		Str("kind", string(notification.Kind)).
		Msg("notification queued")
	return nil
}

// notifyAppointment queues a message about appt to the community specialist.
// Communities without a specialist number are skipped.
func (n *NotificationService) notifyAppointment(ctx context.Context, kind entities.NotificationKind, appt *entities.Appointment, sched *communitySchedule) error {
	if sched.SpecialistWhatsApp == "" {
		n.logger.Warn().
			Str("community_id", appt.CommunityID).
			Str("appointment_id", appt.ID).
			Msg("no specialist WhatsApp configured, skipping notification")
		return nil
	}

	local := appt.AppointmentDate.In(sched.Location)
	body := n.renderTemplate(n.templates[kind], &NotificationContext{
		SpecialistName:  sched.SpecialistName,
		AppointmentType: appointmentTypeLabel(appt.Type),
		ScheduledDate:   local.Format("02/01/2006"),
		ScheduledTime:   local.Format(entities.ClockLayout),
		Notes:           appt.Notes,
	})

	appointmentID := appt.ID
	return n.Enqueue(ctx, &entities.OutboundNotification{
		AccountID:     sched.SenderAccountID,
		CommunityID:   appt.CommunityID,
		AppointmentID: &appointmentID,
		Kind:          kind,
		Recipient:     sched.SpecialistWhatsApp,
		Body:          body,
	})
}

func appointmentTypeLabel(t entities.AppointmentType) string {
	if t == entities.AppointmentTypeSOS {
		return "SOS"
	}
	return "consulta"
}

// NotifyCommunityActivity queues one message per recipient on the community's
// sender account and returns how many were queued.
func (n *NotificationService) NotifyCommunityActivity(ctx context.Context, activity *entities.CommunityActivity) (int, error) {
	switch activity.Kind {
	case entities.NotificationCommunityPost, entities.NotificationCommunityComment, entities.NotificationCommunityEvent:
	default:
		return 0, apperrors.NewValidationError(fmt.Sprintf("unsupported activity kind %q", activity.Kind))
	}
	if strings.TrimSpace(activity.CommunityID) == "" {
		return 0, apperrors.NewValidationError("community id is required")
	}
	if strings.TrimSpace(activity.Title) == "" {
		return 0, apperrors.NewValidationError("title is required")
	}

	sched, err := resolveSchedule(ctx, n.settings, n.defaults, activity.CommunityID)
	if err != nil {
		return 0, err
	}

	body := n.renderTemplate(n.templates[activity.Kind], &NotificationContext{
		Title:      activity.Title,
		AuthorName: activity.AuthorName,
		Link:       activity.Link,
	})

	seen := make(map[string]bool, len(activity.Recipients))
	queued := 0
	for _, recipient := range activity.Recipients {
		phone := normalizePhone(recipient)
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true

		err := n.Enqueue(ctx, &entities.OutboundNotification{
			AccountID:   sched.SenderAccountID,
			CommunityID: activity.CommunityID,
			Kind:        activity.Kind,
			Recipient:   phone,
			Body:        body,
		})
		if err != nil {
			return queued, err
		}
		queued++
	}

	n.logger.Info().
		Str("community_id", activity.CommunityID).
		Str("kind", string(activity.Kind)).
		Int("queued", queued).
		Msg("community activity notifications queued")
	return queued, nil
}

// List returns queued messages for the admin view
func (n *NotificationService) List(ctx context.Context, filter repositories.NotificationFilter) ([]*entities.OutboundNotification, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	list, err := n.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*entities.OutboundNotification{}
	}
	return list, nil
}

// renderTemplate replaces placeholders in template. {{#if key}}...{{/if}}
// sections are kept only when key has a value.
func (n *NotificationService) renderTemplate(template string, ctx *NotificationContext) string {
	values := map[string]string{
		"specialist_name":  ctx.SpecialistName,
		"appointment_type": ctx.AppointmentType,
		"scheduled_date":   ctx.ScheduledDate,
		"scheduled_time":   ctx.ScheduledTime,
		"notes":            ctx.Notes,
		"title":            ctx.Title,
		"author_name":      ctx.AuthorName,
		"link":             ctx.Link,
	}

	for key, value := range values {
		open := "{{#if " + key + "}}"
		for {
			start := strings.Index(template, open)
			if start < 0 {
				break
			}
			end := strings.Index(template[start:], "{{/if}}")
			if end < 0 {
				break
			}
			inner := template[start+len(open) : start+end]
			if value == "" {
				inner = ""
			}
			template = template[:start] + inner + template[start+end+len("{{/if}}"):]
		}
	}

	result := template
	for key, value := range values {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}
