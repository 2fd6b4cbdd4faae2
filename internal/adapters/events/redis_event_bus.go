package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
)

// RedisEventBus implements the EventBus interface using Redis Pub/Sub, so
// calendar changes made by one API replica reach SSE clients of every replica
type RedisEventBus struct {
	client        redis.UniversalClient
	subscriptions map[string]*redis.PubSub
	mu            sync.Mutex
	local         *fanout
	logger        zerolog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
}

var _ providers.EventBus = (*RedisEventBus)(nil)

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client redis.UniversalClient, logger zerolog.Logger) *RedisEventBus {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "event_bus").Logger()
	return &RedisEventBus{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
		local:         newFanout(logger),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Publish publishes an event to all subscribers
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.AppointmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug().Str("channel", channel).Str("event_id", event.ID).Msg("Published event")
	return nil
}

// Subscribe subscribes to events on a channel until ctx ends
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.AppointmentEvent, error) {
	b.mu.Lock()
	if _, exists := b.subscriptions[channel]; !exists {
		pubsub := b.client.Subscribe(b.ctx, channel)
		b.subscriptions[channel] = pubsub
		go b.receiveMessages(channel, pubsub)
	}
	b.mu.Unlock()

	eventChan, count := b.local.add(channel)
	b.logger.Info().Str("channel", channel).Int("subscribers", count).Msg("Subscribed to channel")

	go func() {
		<-ctx.Done()
		if b.local.remove(channel, eventChan) {
			b.closeSubscription(channel)
		}
	}()

	return eventChan, nil
}

// receiveMessages receives messages from Redis and broadcasts them to subscribers
func (b *RedisEventBus) receiveMessages(channel string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event entities.AppointmentEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to unmarshal event")
				continue
			}
			b.local.broadcast(channel, &event)
		}
	}
}

func (b *RedisEventBus) closeSubscription(channel string) {
	b.mu.Lock()
	pubsub, ok := b.subscriptions[channel]
	delete(b.subscriptions, channel)
	b.mu.Unlock()

	if !ok {
		return
	}
	if err := pubsub.Close(); err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to close subscription")
		return
	}
	b.logger.Info().Str("channel", channel).Msg("Closed subscription to channel")
}

// Unsubscribe drops every local subscriber of the channel
func (b *RedisEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.local.closeChannel(channel)
	b.closeSubscription(channel)
	return nil
}

// Close closes the event bus and all subscriptions
func (b *RedisEventBus) Close() error {
	b.cancel()

	for _, channel := range b.local.channels() {
		b.local.closeChannel(channel)
	}

	b.mu.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[string]*redis.PubSub)
	b.mu.Unlock()

	var errs []error
	for channel, pubsub := range subs {
		if err := pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close subscription %s: %w", channel, err))
		}
	}

	b.logger.Info().Msg("Event bus closed")
	return errors.Join(errs...)
}
