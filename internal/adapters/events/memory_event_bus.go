package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
)

// MemoryEventBus delivers events to subscribers in the same process. Used
// when Redis is disabled.
type MemoryEventBus struct {
	local *fanout
}

var _ providers.EventBus = (*MemoryEventBus)(nil)

// NewMemoryEventBus creates an in-process event bus
func NewMemoryEventBus(logger zerolog.Logger) *MemoryEventBus {
	return &MemoryEventBus{local: newFanout(logger.With().Str("component", "event_bus").Logger())}
}

func (b *MemoryEventBus) Publish(ctx context.Context, channel string, event *entities.AppointmentEvent) error {
	b.local.broadcast(channel, event)
	return nil
}

func (b *MemoryEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.AppointmentEvent, error) {
	ch, _ := b.local.add(channel)
	go func() {
		<-ctx.Done()
		b.local.remove(channel, ch)
	}()
	return ch, nil
}

func (b *MemoryEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.local.closeChannel(channel)
	return nil
}

func (b *MemoryEventBus) Close() error {
	for _, channel := range b.local.channels() {
		b.local.closeChannel(channel)
	}
	return nil
}
