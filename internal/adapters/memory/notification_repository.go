package memory

import (
	"context"
	"sort"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// NotificationRepository implements repositories.NotificationRepository
type NotificationRepository struct {
	store *Store
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

func isDue(n *entities.OutboundNotification, now time.Time) bool {
	return (n.Status == entities.NotificationStatusPending || n.Status == entities.NotificationStatusDeferred) &&
		!n.NextAttemptAt.After(now)
}

// Enqueue stores a pending notification
func (r *NotificationRepository) Enqueue(ctx context.Context, notification *entities.OutboundNotification) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.notifications[notification.ID]; exists {
		return apperrors.NewConflictError("notification already queued")
	}
	cp := *notification
	r.store.seq++
	r.store.notifications[notification.ID] = &cp
	r.store.notifSeq[notification.ID] = r.store.seq
	return nil
}

// DueAccounts lists accounts with due messages
func (r *NotificationRepository) DueAccounts(ctx context.Context, now time.Time) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	seen := make(map[string]bool)
	accounts := []string{}
	for _, n := range r.store.sortedNotifications() {
		if isDue(n, now) && !seen[n.AccountID] {
			seen[n.AccountID] = true
			accounts = append(accounts, n.AccountID)
		}
	}
	return accounts, nil
}

// ClaimNext marks the oldest due message of the account as sending
func (r *NotificationRepository) ClaimNext(ctx context.Context, accountID string, now time.Time) (*entities.OutboundNotification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, n := range r.store.sortedNotifications() {
		if n.AccountID == accountID && isDue(n, now) {
			n.Status = entities.NotificationStatusSending
			n.UpdatedAt = now
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

// Defer pushes every due message of the account to until
func (r *NotificationRepository) Defer(ctx context.Context, accountID string, until time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for _, msg := range r.store.notifications {
		if msg.AccountID == accountID && isDue(msg, until) && msg.NextAttemptAt.Before(until) {
			msg.Status = entities.NotificationStatusDeferred
			msg.NextAttemptAt = until
			msg.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id, messageID string, at time.Time) error {
	return r.update(id, func(n *entities.OutboundNotification) {
		n.Status = entities.NotificationStatusSent
		n.Attempts++
		n.MessageID = &messageID
		n.SentAt = &at
		n.UpdatedAt = at
	})
}

// MarkRetry records a failed attempt and schedules the next one
func (r *NotificationRepository) MarkRetry(ctx context.Context, id, reason string, next time.Time) error {
	return r.update(id, func(n *entities.OutboundNotification) {
		n.Status = entities.NotificationStatusPending
		n.Attempts++
		n.LastError = &reason
		n.NextAttemptAt = next
		n.UpdatedAt = time.Now()
	})
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.update(id, func(n *entities.OutboundNotification) {
		n.Status = entities.NotificationStatusFailed
		n.Attempts++
		n.LastError = &reason
		n.UpdatedAt = time.Now()
	})
}

func (r *NotificationRepository) update(id string, apply func(*entities.OutboundNotification)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	n, ok := r.store.notifications[id]
	if !ok {
		return apperrors.NewNotFoundError("notification not found")
	}
	apply(n)
	return nil
}

// List returns the newest messages first
func (r *NotificationRepository) List(ctx context.Context, filter repositories.NotificationFilter) ([]*entities.OutboundNotification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sorted := r.store.sortedNotifications()
	out := []*entities.OutboundNotification{}
	for i := len(sorted) - 1; i >= 0; i-- {
		n := sorted[i]
		if filter.AccountID != "" && n.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// sortedNotifications returns queue entries in insertion order; mu must be held
func (s *Store) sortedNotifications() []*entities.OutboundNotification {
	out := make([]*entities.OutboundNotification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.notifSeq[out[i].ID] < s.notifSeq[out[j].ID]
	})
	return out
}
