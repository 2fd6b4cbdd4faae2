// Package ratelimit stores the per-account send history read by the
// notification rate limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
)

// retention bounds how long a send can influence a decision (the daily window)
const retention = 24 * time.Hour

// MemorySendLog keeps send history in process. Limits are per instance.
type MemorySendLog struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	leases  map[string]memoryLease
}

type memoryLease struct {
	token   string
	expires time.Time
}

type memoryEntry struct {
	sends         []time.Time
	nextAllowedAt time.Time
}

var _ providers.SendLogStore = (*MemorySendLog)(nil)

// NewMemorySendLog creates an empty in-memory send log
func NewMemorySendLog() *MemorySendLog {
	return &MemorySendLog{
		entries: make(map[string]*memoryEntry),
		leases:  make(map[string]memoryLease),
	}
}

// Append records a send and prunes entries past retention
func (m *MemorySendLog) Append(ctx context.Context, accountID string, at, nextAllowedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[accountID]
	if !ok {
		ent = &memoryEntry{}
		m.entries[accountID] = ent
	}

	cutoff := at.Add(-retention)
	kept := ent.sends[:0]
	for _, t := range ent.sends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	// keep sends ordered even if the clock stepped back
	i := len(kept)
	kept = append(kept, at)
	for i > 0 && kept[i-1].After(at) {
		kept[i] = kept[i-1]
		i--
	}
	kept[i] = at

	ent.sends = kept
	if nextAllowedAt.After(ent.nextAllowedAt) {
		ent.nextAllowedAt = nextAllowedAt
	}
	return nil
}

// Load returns sends at or after since, oldest first
func (m *MemorySendLog) Load(ctx context.Context, accountID string, since time.Time) (entities.SendLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var log entities.SendLog
	ent, ok := m.entries[accountID]
	if !ok {
		return log, nil
	}
	for _, t := range ent.sends {
		if !t.Before(since) {
			log.Sends = append(log.Sends, t)
		}
	}
	if !ent.nextAllowedAt.IsZero() {
		next := ent.nextAllowedAt
		log.NextAllowedAt = &next
	}
	return log, nil
}

// Reset forgets the account
func (m *MemorySendLog) Reset(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, accountID)
	return nil
}

// AcquireLease grants the account's queue to one holder until ttl passes
func (m *MemorySendLog) AcquireLease(ctx context.Context, accountID string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if held, ok := m.leases[accountID]; ok && now.Before(held.expires) {
		return "", false, nil
	}
	token := uuid.New().String()
	m.leases[accountID] = memoryLease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

// ReleaseLease drops the lease if token still holds it
func (m *MemorySendLog) ReleaseLease(ctx context.Context, accountID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[accountID]; ok && held.token == token {
		delete(m.leases, accountID)
	}
	return nil
}
