package entities

import "time"

// NotificationKind represents the notification purpose
type NotificationKind string

const (
	NotificationAppointmentScheduled NotificationKind = "appointment_scheduled"
	NotificationAppointmentConfirmed NotificationKind = "appointment_confirmed"
	NotificationAppointmentCancelled NotificationKind = "appointment_cancelled"
	NotificationCommunityPost        NotificationKind = "post"
	NotificationCommunityComment     NotificationKind = "comment"
	NotificationCommunityEvent       NotificationKind = "event"
)

// NotificationStatus represents the delivery status
type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "pending"
	NotificationStatusDeferred NotificationStatus = "deferred"
	NotificationStatusSending  NotificationStatus = "sending"
	NotificationStatusSent     NotificationStatus = "sent"
	NotificationStatusFailed   NotificationStatus = "failed"
)

// OutboundNotification is one queued WhatsApp message. Rows are drained per
// sender account, oldest first.
type OutboundNotification struct {
	ID            string             `json:"id" db:"id"`
	AccountID     string             `json:"account_id" db:"account_id"`
	CommunityID   string             `json:"community_id" db:"community_id"`
	AppointmentID *string            `json:"appointment_id,omitempty" db:"appointment_id"`
	Kind          NotificationKind   `json:"kind" db:"kind"`
	Recipient     string             `json:"recipient" db:"recipient"`
	Body          string             `json:"body" db:"body"`
	Status        NotificationStatus `json:"status" db:"status"`
	Attempts      int                `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time          `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     *string            `json:"last_error,omitempty" db:"last_error"`
	MessageID     *string            `json:"message_id,omitempty" db:"message_id"`
	SentAt        *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`
}

// CommunityActivity describes a post, comment or event that members should hear about
type CommunityActivity struct {
	CommunityID string           `json:"community_id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	AuthorName  string           `json:"author_name"`
	Link        string           `json:"link,omitempty"`
	Recipients  []string         `json:"recipients"`
}

// AccountTier selects which rate-limit policy applies to a sender account
type AccountTier string

const (
	AccountTierNew         AccountTier = "new"
	AccountTierEstablished AccountTier = "established"
)

// Valid reports whether t is a known tier
func (t AccountTier) Valid() bool {
	return t == AccountTierNew || t == AccountTierEstablished
}

// ConnectionStatus is the last known state of a sender account's WhatsApp session
type ConnectionStatus string

const (
	ConnectionStatusUnknown      ConnectionStatus = "unknown"
	ConnectionStatusAwaitingQR   ConnectionStatus = "awaiting_qr"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusLoggedOut    ConnectionStatus = "logged_out"
)

// SenderAccount is a WhatsApp number the platform sends from
type SenderAccount struct {
	ID           string       `json:"id" db:"id"`
	Instance     string       `json:"instance" db:"instance"`
	Phone        string       `json:"phone" db:"phone"`
	RegisteredAt time.Time    `json:"registered_at" db:"registered_at"`
	TierOverride *AccountTier `json:"tier_override,omitempty" db:"tier_override"`
}

// Tier resolves the account's tier: an explicit override wins, otherwise
// accounts younger than newAccountAge are new.
func (a *SenderAccount) Tier(now time.Time, newAccountAge time.Duration) AccountTier {
	if a.TierOverride != nil && a.TierOverride.Valid() {
		return *a.TierOverride
	}
	if a.RegisteredAt.IsZero() || now.Sub(a.RegisteredAt) < newAccountAge {
		return AccountTierNew
	}
	return AccountTierEstablished
}

// RateLimitPolicy caps outbound volume for one tier.
// When IntelligentDelay is set the gap after each send is drawn uniformly
// from [DelayMin, DelayMax] instead of using MinDelay.
type RateLimitPolicy struct {
	Tier             AccountTier   `json:"tier"`
	MinDelay         time.Duration `json:"min_delay"`
	MaxPerHour       int           `json:"max_per_hour"`
	MaxPerDay        int           `json:"max_per_day"`
	IntelligentDelay bool          `json:"intelligent_delay"`
	DelayMin         time.Duration `json:"delay_min"`
	DelayMax         time.Duration `json:"delay_max"`
}

// SendLog is an account's recent send history, oldest first
type SendLog struct {
	Sends         []time.Time
	NextAllowedAt *time.Time
}

// SendStats is the admin view of an account's limiter state
type SendStats struct {
	AccountID     string          `json:"account_id"`
	Tier          AccountTier     `json:"tier"`
	SentLastHour  int             `json:"sent_last_hour"`
	SentLastDay   int             `json:"sent_last_day"`
	LastSendAt    *time.Time      `json:"last_send_at,omitempty"`
	NextAllowedAt *time.Time      `json:"next_allowed_at,omitempty"`
	Policy        RateLimitPolicy `json:"policy"`
}

// AppointmentEventType names calendar changes pushed to listeners
type AppointmentEventType string

const (
	AppointmentEventScheduled AppointmentEventType = "appointment.scheduled"
	AppointmentEventCancelled AppointmentEventType = "appointment.cancelled"
	AppointmentEventUpdated   AppointmentEventType = "appointment.updated"
)

// AppointmentEvent is published whenever a slot is taken or freed
type AppointmentEvent struct {
	ID            string               `json:"id"`
	Type          AppointmentEventType `json:"type"`
	CommunityID   string               `json:"community_id"`
	AppointmentID string               `json:"appointment_id"`
	Date          string               `json:"date"`
	Time          string               `json:"time"`
	Status        AppointmentStatus    `json:"status"`
	OccurredAt    time.Time            `json:"occurred_at"`
}
