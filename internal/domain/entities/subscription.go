package entities

import "time"

// SubscriptionStatusActive is the only status allowed to spend SOS tickets
const SubscriptionStatusActive = "active"

// UserSubscription is a member's plan in a community, carrying the SOS credit pool
type UserSubscription struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	CommunityID     string    `json:"community_id" db:"community_id"`
	Status          string    `json:"status" db:"status"`
	SosTicketsUsed  int       `json:"sos_tickets_used" db:"sos_tickets_used"`
	SosTicketsTotal int       `json:"sos_tickets_total" db:"sos_tickets_total"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// HasSosCredit reports whether the subscription may book an SOS appointment
func (s *UserSubscription) HasSosCredit() bool {
	return s != nil && s.Status == SubscriptionStatusActive && s.SosTicketsUsed < s.SosTicketsTotal
}
