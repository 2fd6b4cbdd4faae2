package providers

import (
	"context"
)

// MessageSender delivers a WhatsApp text through a bridge (Evolution API,
// WhatsApp Cloud API, a WhatsApp Web session...).
type MessageSender interface {
	// SendMessage sends text to the given phone number and returns the
	// bridge's message id. Unreachable bridges return a CONNECTION app error.
	SendMessage(ctx context.Context, to, text string) (messageID string, err error)
}
