// Package memory holds in-process implementations of the repositories, for
// development (STORAGE_DRIVER=memory) and tests. All repositories created from
// one Store share a single lock, so Claim is atomic like its Postgres twin.
package memory

import (
	"sync"

	"github.com/metacircle/backend/internal/domain/entities"
)

// Store is the shared in-memory dataset
type Store struct {
	mu sync.Mutex

	appointments  map[string]*entities.Appointment
	windows       map[string][]entities.AvailabilityWindow
	blocked       map[string]map[string]entities.BlockedDate
	subscriptions map[string]*entities.UserSubscription
	settings      map[string]*entities.SchedulingSettings
	senders       map[string]*entities.SenderAccount
	policies      map[entities.AccountTier]*entities.RateLimitPolicy
	notifications map[string]*entities.OutboundNotification
	// seq orders notifications by insertion
	seq      int64
	notifSeq map[string]int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		appointments:  make(map[string]*entities.Appointment),
		windows:       make(map[string][]entities.AvailabilityWindow),
		blocked:       make(map[string]map[string]entities.BlockedDate),
		subscriptions: make(map[string]*entities.UserSubscription),
		settings:      make(map[string]*entities.SchedulingSettings),
		senders:       make(map[string]*entities.SenderAccount),
		policies:      make(map[entities.AccountTier]*entities.RateLimitPolicy),
		notifications: make(map[string]*entities.OutboundNotification),
		notifSeq:      make(map[string]int64),
	}
}

// Appointments returns the appointment repository view
func (s *Store) Appointments() *AppointmentRepository {
	return &AppointmentRepository{store: s}
}

// Availability returns the availability repository view
func (s *Store) Availability() *AvailabilityRepository {
	return &AvailabilityRepository{store: s}
}

// Subscriptions returns the subscription repository view
func (s *Store) Subscriptions() *SubscriptionRepository {
	return &SubscriptionRepository{store: s}
}

// Settings returns the settings repository view
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{store: s}
}

// Notifications returns the notification queue view
func (s *Store) Notifications() *NotificationRepository {
	return &NotificationRepository{store: s}
}

// PutSubscription seeds a subscription. Subscriptions are owned by the billing
// side of the platform, so there is no repository write for them.
func (s *Store) PutSubscription(sub *entities.UserSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subscriptions[sub.ID] = &cp
}

// PutSenderAccount seeds a sender account
func (s *Store) PutSenderAccount(account *entities.SenderAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *account
	s.senders[account.ID] = &cp
}

// Subscription returns a copy of a stored subscription, for assertions
func (s *Store) Subscription(id string) (entities.UserSubscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return entities.UserSubscription{}, false
	}
	return *sub, true
}
