package services

import (
	"context"
	"fmt"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// SchedulingDefaults apply to communities without stored SchedulingSettings
type SchedulingDefaults struct {
	Location        *time.Location
	SlotMinutes     int
	SenderAccountID string
}

// communitySchedule is SchedulingSettings with defaults filled in
type communitySchedule struct {
	CommunityID        string
	Location           *time.Location
	Slot               time.Duration
	SenderAccountID    string
	SpecialistName     string
	SpecialistWhatsApp string
}

func resolveSchedule(ctx context.Context, repo repositories.SettingsRepository, defaults SchedulingDefaults, communityID string) (*communitySchedule, error) {
	sched := &communitySchedule{
		CommunityID:     communityID,
		Location:        defaults.Location,
		Slot:            time.Duration(defaults.SlotMinutes) * time.Minute,
		SenderAccountID: defaults.SenderAccountID,
	}
	if sched.Location == nil {
		sched.Location = time.UTC
	}
	if sched.Slot <= 0 {
		sched.Slot = time.Duration(entities.DefaultAppointmentDuration) * time.Minute
	}
	if repo == nil {
		return sched, nil
	}

	settings, err := repo.GetSchedulingSettings(ctx, communityID)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return sched, nil
		}
		return nil, fmt.Errorf("failed to load scheduling settings: %w", err)
	}

	if settings.Timezone != "" {
		loc, err := time.LoadLocation(settings.Timezone)
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("community %s has invalid timezone %q", communityID, settings.Timezone), err)
		}
		sched.Location = loc
	}
	if settings.SlotMinutes > 0 {
		sched.Slot = time.Duration(settings.SlotMinutes) * time.Minute
	}
	if settings.SenderAccountID != "" {
		sched.SenderAccountID = settings.SenderAccountID
	}
	sched.SpecialistName = settings.SpecialistName
	sched.SpecialistWhatsApp = settings.SpecialistWhatsApp
	return sched, nil
}
