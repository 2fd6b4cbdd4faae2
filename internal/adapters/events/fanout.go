package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
)

const subscriberBuffer = 100

// fanout tracks local subscriber channels per bus channel and delivers
// events without blocking. A full subscriber drops the event.
type fanout struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.AppointmentEvent]struct{}
	logger      zerolog.Logger
}

func newFanout(logger zerolog.Logger) *fanout {
	return &fanout{
		subscribers: make(map[string]map[chan *entities.AppointmentEvent]struct{}),
		logger:      logger,
	}
}

func (f *fanout) add(channel string) (chan *entities.AppointmentEvent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribers[channel] == nil {
		f.subscribers[channel] = make(map[chan *entities.AppointmentEvent]struct{})
	}
	ch := make(chan *entities.AppointmentEvent, subscriberBuffer)
	f.subscribers[channel][ch] = struct{}{}
	return ch, len(f.subscribers[channel])
}

// remove closes ch and reports whether channel has no subscribers left
func (f *fanout) remove(channel string, ch chan *entities.AppointmentEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	subscribers, ok := f.subscribers[channel]
	if !ok {
		return false
	}
	if _, ok := subscribers[ch]; !ok {
		return false
	}

	delete(subscribers, ch)
	close(ch)
	if len(subscribers) == 0 {
		delete(f.subscribers, channel)
		return true
	}
	return false
}

func (f *fanout) broadcast(channel string, event *entities.AppointmentEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for subscriber := range f.subscribers[channel] {
		select {
		case subscriber <- event:
		default:
			f.logger.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("Subscriber channel full, skipping event")
		}
	}
}

func (f *fanout) closeChannel(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for subscriber := range f.subscribers[channel] {
		close(subscriber)
	}
	delete(f.subscribers, channel)
}

func (f *fanout) channels() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.subscribers))
	for channel := range f.subscribers {
		out = append(out, channel)
	}
	return out
}
