package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/providers"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// EvolutionSender sends text messages through an Evolution API instance
type EvolutionSender struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ providers.MessageSender = (*EvolutionSender)(nil)

// EvolutionTextMessage is the sendText request body
type EvolutionTextMessage struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// EvolutionResponse is the part of the sendText response we read
type EvolutionResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	Status string `json:"status"`
}

// NewEvolutionSender creates a new Evolution API sender
func NewEvolutionSender(baseURL, apiKey, instance string, timeout time.Duration, logger zerolog.Logger) (*EvolutionSender, error) {
	if baseURL == "" || instance == "" {
		return nil, fmt.Errorf("evolution base URL and instance must be set")
	}
	return &EvolutionSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		instance:   instance,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "evolution_sender").Logger(),
	}, nil
}

// SendMessage sends a text message
func (s *EvolutionSender) SendMessage(ctx context.Context, to, text string) (string, error) {
	number := digitsOnly(to)
	if number == "" {
		return "", apperrors.NewValidationError("recipient number is empty")
	}

	url := fmt.Sprintf("%s/message/sendText/%s", s.baseURL, s.instance)
	var resp EvolutionResponse
	err := postJSON(ctx, s.httpClient, url, map[string]string{"apikey": s.apiKey},
		EvolutionTextMessage{Number: number, Text: text}, &resp)
	if err != nil {
		return "", err
	}

	if resp.Key.ID == "" {
		return "", apperrors.NewExternalError("no message ID in response", nil)
	}
	s.logger.Debug().Str("to", number).Str("message_id", resp.Key.ID).Msg("Message accepted by Evolution API")
	return resp.Key.ID, nil
}

func digitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
