package providers

import (
	"context"

	"github.com/metacircle/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to calendar events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.AppointmentEvent) error

	// Subscribe subscribes to events on a channel until ctx ends
	Subscribe(ctx context.Context, channel string) (<-chan *entities.AppointmentEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

const (
	// EventChannelCommunityPrefix prefixes per-community calendar channels
	EventChannelCommunityPrefix = "community:"
	eventChannelCalendarSuffix  = ":calendar"
)

// GetCalendarChannel returns the channel name for a community's calendar
func GetCalendarChannel(communityID string) string {
	return EventChannelCommunityPrefix + communityID + eventChannelCalendarSuffix
}
