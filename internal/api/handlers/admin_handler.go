package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/notifications"
)

// AvailabilityAdmin manages windows, blocked dates and scheduling settings
type AvailabilityAdmin interface {
	ListWindows(ctx context.Context, communityID string) ([]entities.AvailabilityWindow, error)
	ReplaceWindows(ctx context.Context, communityID string, windows []entities.AvailabilityWindow) ([]entities.AvailabilityWindow, error)
	ListBlockedDates(ctx context.Context, communityID, from, to string) ([]entities.BlockedDate, error)
	BlockDate(ctx context.Context, communityID, date, reason string) (*entities.BlockedDate, error)
	UnblockDate(ctx context.Context, communityID, date string) error
	GetSettings(ctx context.Context, communityID string) (*entities.SchedulingSettings, error)
	UpdateSettings(ctx context.Context, settings *entities.SchedulingSettings) error
}

// PolicyAdmin reads and writes per-tier rate-limit policies
type PolicyAdmin interface {
	GetPolicy(ctx context.Context, tier entities.AccountTier) (entities.RateLimitPolicy, error)
	UpdatePolicy(ctx context.Context, policy *entities.RateLimitPolicy) error
}

// LimiterAdmin exposes and resets a sender account's limiter state
type LimiterAdmin interface {
	Stats(ctx context.Context, accountID string) (*entities.SendStats, error)
	Reset(ctx context.Context, accountID string) error
}

// NotificationLister lists the outbound queue
type NotificationLister interface {
	List(ctx context.Context, filter repositories.NotificationFilter) ([]*entities.OutboundNotification, error)
}

// ConnectionReporter reports the session state of the configured sender
type ConnectionReporter interface {
	Snapshot() notifications.ConnectionSnapshot
}

// AdminHandler serves the /api/admin endpoints
type AdminHandler struct {
	availability  AvailabilityAdmin
	policies      PolicyAdmin
	limiter       LimiterAdmin
	notifications NotificationLister
	connection    ConnectionReporter
	logger        zerolog.Logger
}

// NewAdminHandler creates a new admin handler. connection may be nil.
func NewAdminHandler(
	availability AvailabilityAdmin,
	policies PolicyAdmin,
	limiter LimiterAdmin,
	notifications NotificationLister,
	connection ConnectionReporter,
	logger zerolog.Logger,
) *AdminHandler {
	return &AdminHandler{
		availability:  availability,
		policies:      policies,
		limiter:       limiter,
		notifications: notifications,
		connection:    connection,
		logger:        logger.With().Str("component", "admin_handler").Logger(),
	}
}

type windowRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsActive  *bool  `json:"is_active"`
}

type replaceWindowsRequest struct {
	Windows []windowRequest `json:"windows"`
}

type blockDateRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type settingsRequest struct {
	SpecialistName     string `json:"specialist_name"`
	SpecialistWhatsApp string `json:"specialist_whatsapp"`
	SenderAccountID    string `json:"sender_account_id"`
	SlotMinutes        int    `json:"slot_minutes"`
	Timezone           string `json:"timezone"`
}

// policyDTO carries policy delays as whole seconds
type policyDTO struct {
	Tier             entities.AccountTier `json:"tier"`
	MinDelaySeconds  int64                `json:"min_delay_seconds"`
	MaxPerHour       int                  `json:"max_per_hour"`
	MaxPerDay        int                  `json:"max_per_day"`
	IntelligentDelay bool                 `json:"intelligent_delay"`
	DelayMinSeconds  int64                `json:"delay_min_seconds"`
	DelayMaxSeconds  int64                `json:"delay_max_seconds"`
}

func newPolicyDTO(p entities.RateLimitPolicy) policyDTO {
	return policyDTO{
		Tier:             p.Tier,
		MinDelaySeconds:  int64(p.MinDelay / time.Second),
		MaxPerHour:       p.MaxPerHour,
		MaxPerDay:        p.MaxPerDay,
		IntelligentDelay: p.IntelligentDelay,
		DelayMinSeconds:  int64(p.DelayMin / time.Second),
		DelayMaxSeconds:  int64(p.DelayMax / time.Second),
	}
}

func (d policyDTO) toEntity() *entities.RateLimitPolicy {
	return &entities.RateLimitPolicy{
		Tier:             d.Tier,
		MinDelay:         time.Duration(d.MinDelaySeconds) * time.Second,
		MaxPerHour:       d.MaxPerHour,
		MaxPerDay:        d.MaxPerDay,
		IntelligentDelay: d.IntelligentDelay,
		DelayMin:         time.Duration(d.DelayMinSeconds) * time.Second,
		DelayMax:         time.Duration(d.DelayMaxSeconds) * time.Second,
	}
}

type statsResponse struct {
	AccountID     string               `json:"account_id"`
	Tier          entities.AccountTier `json:"tier"`
	SentLastHour  int                  `json:"sent_last_hour"`
	SentLastDay   int                  `json:"sent_last_day"`
	LastSendAt    *time.Time           `json:"last_send_at,omitempty"`
	NextAllowedAt *time.Time           `json:"next_allowed_at,omitempty"`
	Policy        policyDTO            `json:"policy"`
}

// ListWindows handles GET /api/admin/communities/{id}/windows
func (h *AdminHandler) ListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := h.availability.ListWindows(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"windows": windows})
}

// ReplaceWindows handles PUT /api/admin/communities/{id}/windows
func (h *AdminHandler) ReplaceWindows(w http.ResponseWriter, r *http.Request) {
	var req replaceWindowsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	communityID := r.PathValue("id")
	windows := make([]entities.AvailabilityWindow, 0, len(req.Windows))
	for _, in := range req.Windows {
		active := true
		if in.IsActive != nil {
			active = *in.IsActive
		}
		windows = append(windows, entities.AvailabilityWindow{
			CommunityID: communityID,
			DayOfWeek:   in.DayOfWeek,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			IsActive:    active,
		})
	}

	saved, err := h.availability.ReplaceWindows(r.Context(), communityID, windows)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"windows": saved})
}

// ListBlockedDates handles GET /api/admin/communities/{id}/blocked-dates?from=&to=
func (h *AdminHandler) ListBlockedDates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dates, err := h.availability.ListBlockedDates(r.Context(), r.PathValue("id"), query.Get("from"), query.Get("to"))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"blocked_dates": dates})
}

// BlockDate handles POST /api/admin/communities/{id}/blocked-dates
func (h *AdminHandler) BlockDate(w http.ResponseWriter, r *http.Request) {
	var req blockDateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	blocked, err := h.availability.BlockDate(r.Context(), r.PathValue("id"), req.Date, req.Reason)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, blocked)
}

// UnblockDate handles DELETE /api/admin/communities/{id}/blocked-dates/{date}
func (h *AdminHandler) UnblockDate(w http.ResponseWriter, r *http.Request) {
	if err := h.availability.UnblockDate(r.Context(), r.PathValue("id"), r.PathValue("date")); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/admin/communities/{id}/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.availability.GetSettings(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/admin/communities/{id}/settings
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	settings := &entities.SchedulingSettings{
		CommunityID:        r.PathValue("id"),
		SpecialistName:     req.SpecialistName,
		SpecialistWhatsApp: req.SpecialistWhatsApp,
		SenderAccountID:    req.SenderAccountID,
		SlotMinutes:        req.SlotMinutes,
		Timezone:           req.Timezone,
	}
	if err := h.availability.UpdateSettings(r.Context(), settings); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// GetPolicy handles GET /api/admin/rate-limits/{tier}
func (h *AdminHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.GetPolicy(r.Context(), entities.AccountTier(r.PathValue("tier")))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newPolicyDTO(policy))
}

// UpdatePolicy handles PUT /api/admin/rate-limits/{tier}
func (h *AdminHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyDTO
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	req.Tier = entities.AccountTier(r.PathValue("tier"))

	policy := req.toEntity()
	if err := h.policies.UpdatePolicy(r.Context(), policy); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newPolicyDTO(*policy))
}

// GetSenderStats handles GET /api/admin/senders/{id}/stats
func (h *AdminHandler) GetSenderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.limiter.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, statsResponse{
		AccountID:     stats.AccountID,
		Tier:          stats.Tier,
		SentLastHour:  stats.SentLastHour,
		SentLastDay:   stats.SentLastDay,
		LastSendAt:    stats.LastSendAt,
		NextAllowedAt: stats.NextAllowedAt,
		Policy:        newPolicyDTO(stats.Policy),
	})
}

// ResetSender handles POST /api/admin/senders/{id}/reset
func (h *AdminHandler) ResetSender(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if err := h.limiter.Reset(r.Context(), accountID); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	h.logger.Info().Str("account_id", accountID).Msg("sender limiter reset")
	w.WriteHeader(http.StatusNoContent)
}

// GetSenderConnection handles GET /api/admin/senders/{id}/connection
func (h *AdminHandler) GetSenderConnection(w http.ResponseWriter, r *http.Request) {
	if h.connection == nil {
		respondWithError(w, http.StatusNotFound, "no sender session configured")
		return
	}
	snapshot := h.connection.Snapshot()
	if snapshot.AccountID != r.PathValue("id") {
		respondWithError(w, http.StatusNotFound, "sender account not found")
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

// ListNotifications handles GET /api/admin/notifications?account_id=&status=&limit=
func (h *AdminHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	query := r.URL.Query()
	items, err := h.notifications.List(r.Context(), repositories.NotificationFilter{
		AccountID: query.Get("account_id"),
		Status:    entities.NotificationStatus(query.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
		"count":         len(items),
	})
}
