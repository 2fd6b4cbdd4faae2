package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/metacircle/backend/internal/adapters/memory"
	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
)

const (
	communityID = "community-1"
	senderID    = "acct-1"
)

// brt is Brasília time without relying on the host tz database
var brt = time.FixedZone("BRT", -3*60*60)

type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, channel string, event *entities.AppointmentEvent) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.AppointmentEvent, error) {
	args := m.Called(ctx, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan *entities.AppointmentEvent), args.Error(1)
}

func (m *MockEventBus) Unsubscribe(ctx context.Context, channel string) error {
	return m.Called(ctx, channel).Error(0)
}

func (m *MockEventBus) Close() error {
	return nil
}

type fixture struct {
	store         *memory.Store
	clock         *fakeClock
	events        *MockEventBus
	availability  *services.AvailabilityService
	notifications *services.NotificationService
	appointments  *services.AppointmentService
}

// newFixture builds the scheduling services over a memory store. The clock
// starts on Sunday 2026-03-01 12:00 BRT; 2026-03-02 is a Monday.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.NewStore(),
		clock:  newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, brt)),
		events: new(MockEventBus),
	}
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	defaults := services.SchedulingDefaults{Location: brt, SlotMinutes: 60, SenderAccountID: "default"}
	logger := zerolog.Nop()

	f.availability = services.NewAvailabilityService(
		f.store.Availability(), f.store.Appointments(), f.store.Settings(), defaults, logger,
	).WithClock(f.clock.Now)
	f.notifications = services.NewNotificationService(
		f.store.Notifications(), f.store.Settings(), defaults, logger,
	).WithClock(f.clock.Now)
	f.appointments = services.NewAppointmentService(
		f.store.Appointments(), f.store.Subscriptions(), f.availability, f.notifications, f.events, nil, logger,
	).WithClock(f.clock.Now)

	ctx := context.Background()
	require.NoError(t, f.store.Settings().UpsertSchedulingSettings(ctx, &entities.SchedulingSettings{
		CommunityID:        communityID,
		SpecialistName:     "Dra. Ana",
		SpecialistWhatsApp: "5511999990000",
		SenderAccountID:    senderID,
		SlotMinutes:        60,
	}))
	return f
}

// mondayMorning configures a Monday 09:00-12:00 window
func (f *fixture) mondayMorning(t *testing.T) {
	t.Helper()
	_, err := f.availability.ReplaceWindows(context.Background(), communityID, []entities.AvailabilityWindow{
		{DayOfWeek: int(time.Monday), StartTime: "09:00", EndTime: "12:00", IsActive: true},
	})
	require.NoError(t, err)
}

func (f *fixture) book(t *testing.T, userID, date, clock string) *entities.Appointment {
	t.Helper()
	appt, err := f.appointments.ScheduleAppointment(context.Background(), services.ScheduleRequest{
		UserID:      userID,
		CommunityID: communityID,
		Date:        date,
		Time:        clock,
	})
	require.NoError(t, err)
	return appt
}

func slotTimes(slots []entities.TimeSlot) map[string]bool {
	out := make(map[string]bool, len(slots))
	for _, s := range slots {
		out[s.Time] = s.Available
	}
	return out
}
