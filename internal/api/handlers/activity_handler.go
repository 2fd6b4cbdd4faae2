package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
)

// ActivityNotifier fans community activity out to WhatsApp
type ActivityNotifier interface {
	NotifyCommunityActivity(ctx context.Context, activity *entities.CommunityActivity) (int, error)
}

// ActivityHandler accepts community activity from the content services
type ActivityHandler struct {
	notifier ActivityNotifier
	logger   zerolog.Logger
}

func NewActivityHandler(notifier ActivityNotifier, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		notifier: notifier,
		logger:   logger.With().Str("component", "activity_handler").Logger(),
	}
}

type activityRequest struct {
	Kind       entities.NotificationKind `json:"kind"`
	Title      string                    `json:"title"`
	AuthorName string                    `json:"author_name"`
	Link       string                    `json:"link"`
	Recipients []string                  `json:"recipients"`
}

// NotifyActivity handles POST /api/communities/{id}/activity.
// Responds 202 with the number of queued messages.
func (h *ActivityHandler) NotifyActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	queued, err := h.notifier.NotifyCommunityActivity(r.Context(), &entities.CommunityActivity{
		CommunityID: r.PathValue("id"),
		Kind:        req.Kind,
		Title:       req.Title,
		AuthorName:  req.AuthorName,
		Link:        req.Link,
		Recipients:  req.Recipients,
	})
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}
