package notifications

import (
	"sync"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
)

// ConnectionSnapshot is the admin view of a sender session
type ConnectionSnapshot struct {
	AccountID string                    `json:"account_id"`
	Status    entities.ConnectionStatus `json:"status"`
	Since     time.Time                 `json:"since"`
	QRCode    string                    `json:"qr_code,omitempty"`
}

// ConnectionState tracks the last known session status of one sender account
// and notifies listeners on every change.
type ConnectionState struct {
	mu        sync.RWMutex
	accountID string
	status    entities.ConnectionStatus
	since     time.Time
	qrCode    string
	listeners []func(accountID string, status entities.ConnectionStatus)
}

func NewConnectionState(accountID string) *ConnectionState {
	return &ConnectionState{
		accountID: accountID,
		status:    entities.ConnectionStatusUnknown,
		since:     time.Now(),
	}
}

// OnChange registers fn to run after each status change
func (c *ConnectionState) OnChange(fn func(accountID string, status entities.ConnectionStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Set records a new status. qrCode is kept only while awaiting a scan.
func (c *ConnectionState) Set(status entities.ConnectionStatus, qrCode string) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	if status == entities.ConnectionStatusAwaitingQR {
		c.qrCode = qrCode
	} else {
		c.qrCode = ""
	}
	if changed {
		c.since = time.Now()
	}
	listeners := append([]func(string, entities.ConnectionStatus){}, c.listeners...)
	accountID := c.accountID
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(accountID, status)
	}
}

func (c *ConnectionState) Status() entities.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *ConnectionState) Snapshot() ConnectionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionSnapshot{
		AccountID: c.accountID,
		Status:    c.status,
		Since:     c.since,
		QRCode:    c.qrCode,
	}
}
