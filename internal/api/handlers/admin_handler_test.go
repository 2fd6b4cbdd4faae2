package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/metacircle/backend/internal/api/handlers"
	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/notifications"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

type MockAvailabilityAdmin struct {
	mock.Mock
}

func (m *MockAvailabilityAdmin) ListWindows(ctx context.Context, communityID string) ([]entities.AvailabilityWindow, error) {
	args := m.Called(ctx, communityID)
	return args.Get(0).([]entities.AvailabilityWindow), args.Error(1)
}

func (m *MockAvailabilityAdmin) ReplaceWindows(ctx context.Context, communityID string, windows []entities.AvailabilityWindow) ([]entities.AvailabilityWindow, error) {
	args := m.Called(ctx, communityID, windows)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.AvailabilityWindow), args.Error(1)
}

func (m *MockAvailabilityAdmin) ListBlockedDates(ctx context.Context, communityID, from, to string) ([]entities.BlockedDate, error) {
	args := m.Called(ctx, communityID, from, to)
	return args.Get(0).([]entities.BlockedDate), args.Error(1)
}

func (m *MockAvailabilityAdmin) BlockDate(ctx context.Context, communityID, date, reason string) (*entities.BlockedDate, error) {
	args := m.Called(ctx, communityID, date, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.BlockedDate), args.Error(1)
}

func (m *MockAvailabilityAdmin) UnblockDate(ctx context.Context, communityID, date string) error {
	return m.Called(ctx, communityID, date).Error(0)
}

func (m *MockAvailabilityAdmin) GetSettings(ctx context.Context, communityID string) (*entities.SchedulingSettings, error) {
	args := m.Called(ctx, communityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SchedulingSettings), args.Error(1)
}

func (m *MockAvailabilityAdmin) UpdateSettings(ctx context.Context, settings *entities.SchedulingSettings) error {
	return m.Called(ctx, settings).Error(0)
}

type MockPolicyAdmin struct {
	mock.Mock
}

func (m *MockPolicyAdmin) GetPolicy(ctx context.Context, tier entities.AccountTier) (entities.RateLimitPolicy, error) {
	args := m.Called(ctx, tier)
	return args.Get(0).(entities.RateLimitPolicy), args.Error(1)
}

func (m *MockPolicyAdmin) UpdatePolicy(ctx context.Context, policy *entities.RateLimitPolicy) error {
	return m.Called(ctx, policy).Error(0)
}

type MockLimiterAdmin struct {
	mock.Mock
}

func (m *MockLimiterAdmin) Stats(ctx context.Context, accountID string) (*entities.SendStats, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SendStats), args.Error(1)
}

func (m *MockLimiterAdmin) Reset(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}

type MockNotificationLister struct {
	mock.Mock
}

func (m *MockNotificationLister) List(ctx context.Context, filter repositories.NotificationFilter) ([]*entities.OutboundNotification, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*entities.OutboundNotification), args.Error(1)
}

type adminFixture struct {
	handler  *handlers.AdminHandler
	avail    *MockAvailabilityAdmin
	policies *MockPolicyAdmin
	limiter  *MockLimiterAdmin
	queue    *MockNotificationLister
	state    *notifications.ConnectionState
}

func newAdminFixture() *adminFixture {
	f := &adminFixture{
		avail:    new(MockAvailabilityAdmin),
		policies: new(MockPolicyAdmin),
		limiter:  new(MockLimiterAdmin),
		queue:    new(MockNotificationLister),
		state:    notifications.NewConnectionState("sender-1"),
	}
	f.handler = handlers.NewAdminHandler(f.avail, f.policies, f.limiter, f.queue, f.state, zerolog.Nop())
	return f
}

func TestAdminHandler_ReplaceWindows(t *testing.T) {
	t.Run("defaults windows to active", func(t *testing.T) {
		f := newAdminFixture()
		f.avail.On("ReplaceWindows", mock.Anything, "comm-1", mock.MatchedBy(func(ws []entities.AvailabilityWindow) bool {
			return len(ws) == 2 && ws[0].IsActive && !ws[1].IsActive && ws[0].CommunityID == "comm-1"
		})).Return([]entities.AvailabilityWindow{{ID: "w-1"}, {ID: "w-2"}}, nil)

		body := `{"windows":[{"day_of_week":1,"start_time":"09:00","end_time":"12:00"},{"day_of_week":2,"start_time":"13:00","end_time":"17:00","is_active":false}]}`
		req := httptest.NewRequest(http.MethodPut, "/api/admin/communities/comm-1/windows", bytes.NewBufferString(body))
		req.SetPathValue("id", "comm-1")
		w := httptest.NewRecorder()

		f.handler.ReplaceWindows(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		f.avail.AssertExpectations(t)
	})

	t.Run("invalid window is a bad request", func(t *testing.T) {
		f := newAdminFixture()
		f.avail.On("ReplaceWindows", mock.Anything, "comm-1", mock.Anything).
			Return(nil, apperrors.NewValidationError("window 22:00-02:00 must end after it starts on the same day"))

		req := httptest.NewRequest(http.MethodPut, "/api/admin/communities/comm-1/windows",
			bytes.NewBufferString(`{"windows":[{"day_of_week":1,"start_time":"22:00","end_time":"02:00"}]}`))
		req.SetPathValue("id", "comm-1")
		w := httptest.NewRecorder()

		f.handler.ReplaceWindows(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminHandler_BlockedDates(t *testing.T) {
	f := newAdminFixture()
	f.avail.On("BlockDate", mock.Anything, "comm-1", "2026-12-25", "holiday").
		Return(&entities.BlockedDate{ID: "b-1", CommunityID: "comm-1", Date: "2026-12-25", Reason: "holiday"}, nil)
	f.avail.On("BlockDate", mock.Anything, "comm-1", "2026-12-26", "").
		Return(nil, apperrors.NewConflictError("2026-12-26 is already blocked"))
	f.avail.On("UnblockDate", mock.Anything, "comm-1", "2026-12-25").Return(nil)
	f.avail.On("ListBlockedDates", mock.Anything, "comm-1", "2026-12-01", "").
		Return([]entities.BlockedDate{{Date: "2026-12-25"}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/communities/comm-1/blocked-dates", bytes.NewBufferString(`{"date":"2026-12-25","reason":"holiday"}`))
	req.SetPathValue("id", "comm-1")
	w := httptest.NewRecorder()
	f.handler.BlockDate(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/communities/comm-1/blocked-dates", bytes.NewBufferString(`{"date":"2026-12-26"}`))
	req.SetPathValue("id", "comm-1")
	w = httptest.NewRecorder()
	f.handler.BlockDate(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/communities/comm-1/blocked-dates?from=2026-12-01", nil)
	req.SetPathValue("id", "comm-1")
	w = httptest.NewRecorder()
	f.handler.ListBlockedDates(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2026-12-25")

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/communities/comm-1/blocked-dates/2026-12-25", nil)
	req.SetPathValue("id", "comm-1")
	req.SetPathValue("date", "2026-12-25")
	w = httptest.NewRecorder()
	f.handler.UnblockDate(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	f.avail.AssertExpectations(t)
}

func TestAdminHandler_UpdateSettings(t *testing.T) {
	f := newAdminFixture()
	f.avail.On("UpdateSettings", mock.Anything, mock.MatchedBy(func(s *entities.SchedulingSettings) bool {
		return s.CommunityID == "comm-1" && s.Timezone == "Africa/Lagos" && s.SlotMinutes == 30
	})).Return(nil)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/communities/comm-1/settings",
		bytes.NewBufferString(`{"specialist_name":"Dr. Ada","specialist_whatsapp":"+2348000000000","slot_minutes":30,"timezone":"Africa/Lagos"}`))
	req.SetPathValue("id", "comm-1")
	w := httptest.NewRecorder()

	f.handler.UpdateSettings(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	f.avail.AssertExpectations(t)
}

func TestAdminHandler_Policies(t *testing.T) {
	t.Run("renders delays in seconds", func(t *testing.T) {
		f := newAdminFixture()
		f.policies.On("GetPolicy", mock.Anything, entities.AccountTierNew).Return(entities.RateLimitPolicy{
			Tier:       entities.AccountTierNew,
			MinDelay:   90 * time.Second,
			MaxPerHour: 20,
			MaxPerDay:  100,
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/admin/rate-limits/new", nil)
		req.SetPathValue("tier", "new")
		w := httptest.NewRecorder()

		f.handler.GetPolicy(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.EqualValues(t, 90, body["min_delay_seconds"])
		assert.EqualValues(t, 20, body["max_per_hour"])
	})

	t.Run("update takes tier from the path", func(t *testing.T) {
		f := newAdminFixture()
		f.policies.On("UpdatePolicy", mock.Anything, mock.MatchedBy(func(p *entities.RateLimitPolicy) bool {
			return p.Tier == entities.AccountTierEstablished && p.MinDelay == 30*time.Second &&
				p.IntelligentDelay && p.DelayMin == 20*time.Second && p.DelayMax == 60*time.Second
		})).Return(nil)

		body := `{"min_delay_seconds":30,"max_per_hour":60,"max_per_day":500,"intelligent_delay":true,"delay_min_seconds":20,"delay_max_seconds":60}`
		req := httptest.NewRequest(http.MethodPut, "/api/admin/rate-limits/established", bytes.NewBufferString(body))
		req.SetPathValue("tier", "established")
		w := httptest.NewRecorder()

		f.handler.UpdatePolicy(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		f.policies.AssertExpectations(t)
	})
}

func TestAdminHandler_Senders(t *testing.T) {
	f := newAdminFixture()
	next := time.Date(2026, 3, 2, 10, 1, 30, 0, time.UTC)
	f.limiter.On("Stats", mock.Anything, "sender-1").Return(&entities.SendStats{
		AccountID:     "sender-1",
		Tier:          entities.AccountTierNew,
		SentLastHour:  3,
		SentLastDay:   12,
		NextAllowedAt: &next,
		Policy:        entities.RateLimitPolicy{Tier: entities.AccountTierNew, MinDelay: 90 * time.Second},
	}, nil)
	f.limiter.On("Reset", mock.Anything, "sender-1").Return(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/senders/sender-1/stats", nil)
	req.SetPathValue("id", "sender-1")
	w := httptest.NewRecorder()
	f.handler.GetSenderStats(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sent_last_hour":3`)
	assert.Contains(t, w.Body.String(), `"min_delay_seconds":90`)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/senders/sender-1/reset", nil)
	req.SetPathValue("id", "sender-1")
	w = httptest.NewRecorder()
	f.handler.ResetSender(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	f.limiter.AssertExpectations(t)
}

func TestAdminHandler_GetSenderConnection(t *testing.T) {
	f := newAdminFixture()
	f.state.Set(entities.ConnectionStatusAwaitingQR, "2@qr-payload")

	req := httptest.NewRequest(http.MethodGet, "/api/admin/senders/sender-1/connection", nil)
	req.SetPathValue("id", "sender-1")
	w := httptest.NewRecorder()
	f.handler.GetSenderConnection(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"awaiting_qr"`)
	assert.Contains(t, w.Body.String(), `"qr_code":"2@qr-payload"`)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/senders/other/connection", nil)
	req.SetPathValue("id", "other")
	w = httptest.NewRecorder()
	f.handler.GetSenderConnection(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_ListNotifications(t *testing.T) {
	f := newAdminFixture()
	f.queue.On("List", mock.Anything, repositories.NotificationFilter{
		AccountID: "sender-1",
		Status:    entities.NotificationStatusDeferred,
		Limit:     25,
	}).Return([]*entities.OutboundNotification{{ID: "n-1"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/notifications?account_id=sender-1&status=deferred&limit=25", nil)
	w := httptest.NewRecorder()
	f.handler.ListNotifications(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	f.queue.AssertExpectations(t)
}
