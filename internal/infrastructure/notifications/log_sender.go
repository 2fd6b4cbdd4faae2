package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/providers"
)

// LogSender only logs messages. Used in development.
type LogSender struct {
	logger zerolog.Logger
}

var _ providers.MessageSender = (*LogSender)(nil)

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) SendMessage(ctx context.Context, to, text string) (string, error) {
	id := "log-" + uuid.New().String()
	s.logger.Info().Str("to", to).Str("message_id", id).Str("text", text).Msg("WhatsApp message (not sent)")
	return id, nil
}
