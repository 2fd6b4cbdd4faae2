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

// WhatsAppCloudSender sends messages via WhatsApp Cloud API
type WhatsAppCloudSender struct {
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	baseURL       string
	logger        zerolog.Logger
}

var _ providers.MessageSender = (*WhatsAppCloudSender)(nil)

// NewWhatsAppCloudSender creates a new WhatsApp sender
func NewWhatsAppCloudSender(baseURL, accessToken, phoneNumberID string, timeout time.Duration, logger zerolog.Logger) (*WhatsAppCloudSender, error) {
	if accessToken == "" || phoneNumberID == "" {
		return nil, fmt.Errorf("WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set")
	}

	return &WhatsAppCloudSender{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "cloud_sender").Logger(),
	}, nil
}

// WhatsAppTextMessage represents a text message
type WhatsAppTextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

// WhatsAppResponse represents the API response
type WhatsAppResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage sends a text message
func (w *WhatsAppCloudSender) SendMessage(ctx context.Context, to, text string) (string, error) {
	message := WhatsAppTextMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               digitsOnly(to),
		Type:             "text",
	}
	message.Text.PreviewURL = true
	message.Text.Body = text

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	var resp WhatsAppResponse
	err := postJSON(ctx, w.httpClient, url, map[string]string{"Authorization": "Bearer " + w.accessToken}, message, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Messages) > 0 {
		return resp.Messages[0].ID, nil
	}
	return "", apperrors.NewExternalError("no message ID in response", nil)
}
