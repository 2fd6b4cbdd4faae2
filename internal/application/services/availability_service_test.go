package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metacircle/backend/internal/domain/entities"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

func TestAvailabilityService_GetAvailableSlots(t *testing.T) {
	ctx := context.Background()

	t.Run("annotates booked slots instead of omitting them", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		f.book(t, "user-1", "2026-03-02", "10:00")

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		require.Len(t, slots, 3)

		assert.Equal(t, "09:00", slots[0].Time)
		assert.True(t, slots[0].Available)
		assert.Equal(t, "10:00", slots[1].Time)
		assert.False(t, slots[1].Available)
		assert.Equal(t, "11:00", slots[2].Time)
		assert.True(t, slots[2].Available)

		assert.True(t, slots[0].Start.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, brt)))
		assert.True(t, slots[0].End.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, brt)))
	})

	t.Run("empty when the weekday has no window", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-03")
		require.NoError(t, err)
		assert.NotNil(t, slots)
		assert.Empty(t, slots)
	})

	t.Run("empty on a blocked date", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		_, err := f.availability.BlockDate(ctx, communityID, "2026-03-02", "holiday")
		require.NoError(t, err)

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		assert.Empty(t, slots)

		require.NoError(t, f.availability.UnblockDate(ctx, communityID, "2026-03-02"))
		slots, err = f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		assert.Len(t, slots, 3)
	})

	t.Run("empty for past dates", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-02-23")
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("slots that already started today are unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		f.clock.Set(time.Date(2026, 3, 2, 10, 30, 0, 0, brt))

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"09:00": false, "10:00": false, "11:00": true}, slotTimes(slots))
	})

	t.Run("cancellation frees the slot on the next read", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		appt := f.book(t, "user-1", "2026-03-02", "10:00")

		_, err := f.appointments.CancelAppointment(ctx, appt.ID, "user-1")
		require.NoError(t, err)

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		assert.True(t, slotTimes(slots)["10:00"])
	})

	t.Run("merges windows and skips inactive ones", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.availability.ReplaceWindows(ctx, communityID, []entities.AvailabilityWindow{
			{DayOfWeek: 1, StartTime: "14:00", EndTime: "16:00", IsActive: true},
			{DayOfWeek: 1, StartTime: "09:00", EndTime: "11:00", IsActive: true},
			{DayOfWeek: 1, StartTime: "10:00", EndTime: "12:00", IsActive: true},
			{DayOfWeek: 1, StartTime: "18:00", EndTime: "20:00", IsActive: false},
		})
		require.NoError(t, err)

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)

		var times []string
		for _, s := range slots {
			times = append(times, s.Time)
		}
		assert.Equal(t, []string{"09:00", "10:00", "11:00", "14:00", "15:00"}, times)
	})

	t.Run("uses the community slot granularity", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		settings, err := f.availability.GetSettings(ctx, communityID)
		require.NoError(t, err)
		settings.SlotMinutes = 30
		require.NoError(t, f.availability.UpdateSettings(ctx, settings))

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		assert.Len(t, slots, 6)
		assert.Equal(t, "11:30", slots[5].Time)
	})

	t.Run("windows may close at midnight", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.availability.ReplaceWindows(ctx, communityID, []entities.AvailabilityWindow{
			{DayOfWeek: 1, StartTime: "21:00", EndTime: entities.EndOfDay, IsActive: true},
		})
		require.NoError(t, err)
		f.book(t, "user-1", "2026-03-02", "23:00")

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"21:00": true, "22:00": true, "23:00": false}, slotTimes(slots))
		assert.True(t, slots[2].End.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, brt)))
	})

	t.Run("rejects malformed dates", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.availability.GetAvailableSlots(ctx, communityID, "02/03/2026")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})
}

func TestAvailabilityService_ReplaceWindows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.availability.ReplaceWindows(ctx, communityID, []entities.AvailabilityWindow{
		{DayOfWeek: 5, StartTime: "22:00", EndTime: "02:00", IsActive: true},
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "windows crossing midnight are rejected")

	_, err = f.availability.ReplaceWindows(ctx, communityID, []entities.AvailabilityWindow{
		{DayOfWeek: 8, StartTime: "09:00", EndTime: "10:00", IsActive: true},
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	saved, err := f.availability.ReplaceWindows(ctx, communityID, []entities.AvailabilityWindow{
		{DayOfWeek: 2, StartTime: "13:00", EndTime: "17:00", IsActive: true},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.NotEmpty(t, saved[0].ID)
	assert.Equal(t, communityID, saved[0].CommunityID)

	windows, err := f.availability.ListWindows(ctx, communityID)
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}

func TestAvailabilityService_BlockedDates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.availability.BlockDate(ctx, communityID, "2026-04-21", "Tiradentes")
	require.NoError(t, err)
	_, err = f.availability.BlockDate(ctx, communityID, "2026-04-21", "again")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	_, err = f.availability.BlockDate(ctx, communityID, "21/04/2026", "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.availability.BlockDate(ctx, communityID, "2026-05-01", "Dia do Trabalho")
	require.NoError(t, err)

	dates, err := f.availability.ListBlockedDates(ctx, communityID, "2026-04-01", "2026-04-30")
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.Equal(t, "Tiradentes", dates[0].Reason)

	err = f.availability.UnblockDate(ctx, communityID, "2026-06-01")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestAvailabilityService_SettingsDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	settings, err := f.availability.GetSettings(ctx, "community-without-settings")
	require.NoError(t, err)
	assert.Equal(t, 60, settings.SlotMinutes)
	assert.Equal(t, "default", settings.SenderAccountID)

	err = f.availability.UpdateSettings(ctx, &entities.SchedulingSettings{CommunityID: communityID, Timezone: "Mars/Olympus"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	require.NoError(t, f.availability.UpdateSettings(ctx, &entities.SchedulingSettings{
		CommunityID:        communityID,
		SpecialistWhatsApp: "+55 (11) 98888-7777",
	}))
	settings, err = f.availability.GetSettings(ctx, communityID)
	require.NoError(t, err)
	assert.Equal(t, "5511988887777", settings.SpecialistWhatsApp)
}
