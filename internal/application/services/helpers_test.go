package services_test

import (
	"context"
	"sync"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
)

// fakeClock is a settable clock shared by the services under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// staticPolicy serves one policy for every account
type staticPolicy struct {
	policy entities.RateLimitPolicy
	err    error
}

func (p *staticPolicy) PolicyFor(ctx context.Context, accountID string) (entities.RateLimitPolicy, error) {
	return p.policy, p.err
}
