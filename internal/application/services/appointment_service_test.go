package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

type MockNotificationRepository struct {
	mock.Mock
	repositories.NotificationRepository
}

func (m *MockNotificationRepository) Enqueue(ctx context.Context, n *entities.OutboundNotification) error {
	return m.Called(ctx, n).Error(0)
}

func queued(t *testing.T, f *fixture) []*entities.OutboundNotification {
	t.Helper()
	list, err := f.store.Notifications().List(context.Background(), repositories.NotificationFilter{})
	require.NoError(t, err)
	return list
}

func TestAppointmentService_ScheduleAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("books an available slot and notifies the specialist", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		appt, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
			UserID:      "user-1",
			CommunityID: communityID,
			Date:        "2026-03-02",
			Time:        "10:00",
			Notes:       "  primeira consulta ",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, appt.ID)
		assert.Equal(t, entities.AppointmentStatusScheduled, appt.Status)
		assert.Equal(t, entities.AppointmentTypeRegular, appt.Type)
		assert.Equal(t, 60, appt.Duration)
		assert.Equal(t, "primeira consulta", appt.Notes)
		assert.True(t, appt.AppointmentDate.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, brt)))

		stored, err := f.store.Appointments().GetByID(ctx, appt.ID)
		require.NoError(t, err)
		assert.False(t, stored.WhatsAppSent)

		msgs := queued(t, f)
		require.Len(t, msgs, 1)
		assert.Equal(t, senderID, msgs[0].AccountID)
		assert.Equal(t, "5511999990000", msgs[0].Recipient)
		assert.Equal(t, entities.NotificationAppointmentScheduled, msgs[0].Kind)
		assert.Equal(t, entities.NotificationStatusPending, msgs[0].Status)
		require.NotNil(t, msgs[0].AppointmentID)
		assert.Equal(t, appt.ID, *msgs[0].AppointmentID)
		assert.Contains(t, msgs[0].Body, "02/03/2026")
		assert.Contains(t, msgs[0].Body, "10:00")

		f.events.AssertCalled(t, "Publish", mock.Anything, "community:"+communityID+":calendar",
			mock.MatchedBy(func(e *entities.AppointmentEvent) bool {
				return e.Type == entities.AppointmentEventScheduled && e.AppointmentID == appt.ID &&
					e.Date == "2026-03-02" && e.Time == "10:00"
			}))
	})

	t.Run("rejects a booked slot", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		f.book(t, "user-1", "2026-03-02", "10:00")

		_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
			UserID: "user-2", CommunityID: communityID, Date: "2026-03-02", Time: "10:00",
		})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable))
	})

	t.Run("rejects slots outside the window", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		for _, clock := range []string{"08:00", "09:30", "12:00"} {
			_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
				UserID: "user-1", CommunityID: communityID, Date: "2026-03-02", Time: clock,
			})
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable), clock)
		}

		_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
			UserID: "user-1", CommunityID: communityID, Date: "2026-03-03", Time: "10:00",
		})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable), "no window on Tuesday")
	})

	t.Run("rejects past and blocked days", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		_, err := f.availability.BlockDate(ctx, communityID, "2026-03-09", "")
		require.NoError(t, err)

		for _, date := range []string{"2026-02-23", "2026-03-09"} {
			_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
				UserID: "user-1", CommunityID: communityID, Date: date, Time: "10:00",
			})
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable), date)
		}
	})

	t.Run("validates the request", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		cases := map[string]services.ScheduleRequest{
			"malformed time":       {UserID: "u", CommunityID: communityID, Date: "2026-03-02", Time: "10h"},
			"malformed date":       {UserID: "u", CommunityID: communityID, Date: "2026-13-02", Time: "10:00"},
			"unknown type":         {UserID: "u", CommunityID: communityID, Date: "2026-03-02", Time: "10:00", Type: "vip"},
			"negative duration":    {UserID: "u", CommunityID: communityID, Date: "2026-03-02", Time: "10:00", Duration: -30},
			"missing user":         {CommunityID: communityID, Date: "2026-03-02", Time: "10:00"},
			"runs past window end": {UserID: "u", CommunityID: communityID, Date: "2026-03-02", Time: "11:00", Duration: 120},
		}
		for name, req := range cases {
			_, err := f.appointments.ScheduleAppointment(ctx, req)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "%s: %v", name, err)
		}
		assert.Empty(t, queued(t, f))
	})

	t.Run("oversized durations are rejected and cannot free the slot", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		for _, duration := range []int{307445734, entities.MaxAppointmentDuration + 1} {
			_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
				UserID: "user-1", CommunityID: communityID, Date: "2026-03-02", Time: "09:00", Duration: duration,
			})
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "duration %d: %v", duration, err)
		}

		f.book(t, "user-1", "2026-03-02", "09:00")
		_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
			UserID: "user-2", CommunityID: communityID, Date: "2026-03-02", Time: "09:00",
		})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable), "same slot booked twice: %v", err)

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		require.NotEmpty(t, slots)
		assert.Equal(t, "09:00", slots[0].Time)
		assert.False(t, slots[0].Available)
	})

	t.Run("longer bookings must not overlap later appointments", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		f.book(t, "user-1", "2026-03-02", "10:00")

		_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
			UserID: "user-2", CommunityID: communityID, Date: "2026-03-02", Time: "09:00", Duration: 90,
		})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable))
	})

	t.Run("booking succeeds when the notification cannot be queued", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		failing := new(MockNotificationRepository)
		failing.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("queue down"))
		notifications := services.NewNotificationService(failing, f.store.Settings(), services.SchedulingDefaults{Location: brt}, zerolog.Nop())
		bus := new(MockEventBus)
		bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))
		svc := services.NewAppointmentService(f.store.Appointments(), f.store.Subscriptions(), f.availability, notifications, bus, nil, zerolog.Nop()).
			WithClock(f.clock.Now)

		appt, err := svc.ScheduleAppointment(ctx, services.ScheduleRequest{
			UserID: "user-1", CommunityID: communityID, Date: "2026-03-02", Time: "09:00",
		})
		require.NoError(t, err)
		assert.Equal(t, entities.AppointmentStatusScheduled, appt.Status)
		failing.AssertExpectations(t)
		bus.AssertExpectations(t)
	})
}

func TestAppointmentService_SosCredits(t *testing.T) {
	ctx := context.Background()

	sosRequest := services.ScheduleRequest{
		UserID: "user-1", CommunityID: communityID, Date: "2026-03-02", Time: "09:00", Type: entities.AppointmentTypeSOS,
	}

	t.Run("exhausted credits are rejected", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		f.store.PutSubscription(&entities.UserSubscription{
			ID: "sub-1", UserID: "user-1", CommunityID: communityID, Status: "active", SosTicketsUsed: 3, SosTicketsTotal: 3,
		})

		_, err := f.appointments.ScheduleAppointment(ctx, sosRequest)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSosCreditExhausted))

		slots, err := f.availability.GetAvailableSlots(ctx, communityID, "2026-03-02")
		require.NoError(t, err)
		assert.True(t, slotTimes(slots)["09:00"], "a rejected SOS request must not hold the slot")
	})

	t.Run("no active subscription is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)

		_, err := f.appointments.ScheduleAppointment(ctx, sosRequest)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSosCreditExhausted))
	})

	t.Run("a remaining credit is consumed and not restored on cancel", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		f.store.PutSubscription(&entities.UserSubscription{
			ID: "sub-1", UserID: "user-1", CommunityID: communityID, Status: "active", SosTicketsUsed: 2, SosTicketsTotal: 3,
		})

		appt, err := f.appointments.ScheduleAppointment(ctx, sosRequest)
		require.NoError(t, err)
		assert.Equal(t, entities.AppointmentTypeSOS, appt.Type)

		sub, _ := f.store.Subscription("sub-1")
		assert.Equal(t, 3, sub.SosTicketsUsed)

		_, err = f.appointments.CancelAppointment(ctx, appt.ID, "user-1")
		require.NoError(t, err)
		sub, _ = f.store.Subscription("sub-1")
		assert.Equal(t, 3, sub.SosTicketsUsed)

		next := sosRequest
		next.Time = "10:00"
		_, err = f.appointments.ScheduleAppointment(ctx, next)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSosCreditExhausted))
	})
}

func TestAppointmentService_ConcurrentBookingsClaimOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mondayMorning(t)

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.appointments.ScheduleAppointment(ctx, services.ScheduleRequest{
				UserID: "user-" + string(rune('a'+i)), CommunityID: communityID, Date: "2026-03-02", Time: "11:00",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestAppointmentService_CancelAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels and notifies", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		appt := f.book(t, "user-1", "2026-03-02", "10:00")

		cancelled, err := f.appointments.CancelAppointment(ctx, appt.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, entities.AppointmentStatusCancelled, cancelled.Status)

		stored, err := f.store.Appointments().GetByID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.AppointmentStatusCancelled, stored.Status)

		msgs := queued(t, f)
		require.Len(t, msgs, 2)
		assert.Equal(t, entities.NotificationAppointmentCancelled, msgs[0].Kind, "newest first")

		f.events.AssertCalled(t, "Publish", mock.Anything, mock.Anything,
			mock.MatchedBy(func(e *entities.AppointmentEvent) bool { return e.Type == entities.AppointmentEventCancelled }))
	})

	t.Run("other users cannot see the appointment", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		appt := f.book(t, "user-1", "2026-03-02", "10:00")

		_, err := f.appointments.CancelAppointment(ctx, appt.ID, "user-2")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})

	t.Run("only before the appointment starts", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		appt := f.book(t, "user-1", "2026-03-02", "10:00")

		f.clock.Set(time.Date(2026, 3, 2, 10, 0, 0, 0, brt))
		_, err := f.appointments.CancelAppointment(ctx, appt.ID, "user-1")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		f := newFixture(t)
		f.mondayMorning(t)
		appt := f.book(t, "user-1", "2026-03-02", "10:00")

		_, err := f.appointments.CancelAppointment(ctx, appt.ID, "user-1")
		require.NoError(t, err)
		_, err = f.appointments.CancelAppointment(ctx, appt.ID, "user-1")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.appointments.CancelAppointment(ctx, "missing", "user-1")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})
}

func TestAppointmentService_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mondayMorning(t)
	appt := f.book(t, "user-1", "2026-03-02", "10:00")

	confirmed, err := f.appointments.UpdateStatus(ctx, appt.ID, entities.AppointmentStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, entities.AppointmentStatusConfirmed, confirmed.Status)
	assert.Equal(t, entities.NotificationAppointmentConfirmed, queued(t, f)[0].Kind)

	_, err = f.appointments.UpdateStatus(ctx, appt.ID, entities.AppointmentStatusScheduled)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.appointments.UpdateStatus(ctx, appt.ID, entities.AppointmentStatusCompleted)
	require.NoError(t, err)

	_, err = f.appointments.UpdateStatus(ctx, appt.ID, entities.AppointmentStatusCancelled)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.appointments.UpdateStatus(ctx, appt.ID, "archived")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestAppointmentService_ListAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mondayMorning(t)
	f.book(t, "user-1", "2026-03-02", "11:00")
	f.book(t, "user-1", "2026-03-02", "09:00")
	other := f.book(t, "user-2", "2026-03-02", "10:00")
	_, err := f.appointments.CancelAppointment(ctx, other.ID, "user-2")
	require.NoError(t, err)

	mine, err := f.appointments.ListAppointments(ctx, repositories.AppointmentFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.True(t, mine[0].AppointmentDate.Before(mine[1].AppointmentDate))

	cancelled, err := f.appointments.ListAppointments(ctx, repositories.AppointmentFilter{
		CommunityID: communityID, Status: entities.AppointmentStatusCancelled,
	})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, other.ID, cancelled[0].ID)

	_, err = f.appointments.ListAppointments(ctx, repositories.AppointmentFilter{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
