package notifications

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// WebSender sends through a linked WhatsApp Web device. The device keys live
// in a sqlite store under the data directory; the first run prints a QR code
// to pair the phone.
type WebSender struct {
	client *whatsmeow.Client
	state  *ConnectionState
	logger zerolog.Logger
}

var _ providers.MessageSender = (*WebSender)(nil)

// NewWebSender opens the device store. Call Connect to start the session.
func NewWebSender(ctx context.Context, dataDir string, state *ConnectionState, logger zerolog.Logger) (*WebSender, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dataDir, "whatsmeow.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	s := &WebSender{
		client: whatsmeow.NewClient(deviceStore, nil),
		state:  state,
		logger: logger.With().Str("component", "web_sender").Logger(),
	}
	s.client.AddEventHandler(s.handleEvent)
	return s, nil
}

// Connect starts the session. An unpaired device prints QR codes until the
// phone scans one or ctx ends.
func (s *WebSender) Connect(ctx context.Context) error {
	if s.client.Store.ID != nil {
		if err := s.client.Connect(); err != nil {
			return apperrors.NewConnectionError("failed to connect", err)
		}
		return nil
	}

	qrChan, err := s.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := s.client.Connect(); err != nil {
		return apperrors.NewConnectionError("failed to connect", err)
	}

	go func() {
		for evt := range qrChan {
			if evt.Event != "code" {
				s.logger.Info().Str("event", evt.Event).Msg("Login event")
				continue
			}
			s.state.Set(entities.ConnectionStatusAwaitingQR, evt.Code)
			q, err := qrcode.New(evt.Code, qrcode.Medium)
			if err != nil {
				s.logger.Warn().Err(err).Str("code", evt.Code).Msg("Failed to render QR code")
				continue
			}
			fmt.Println("\n" + q.ToSmallString(false))
			s.logger.Info().Msg("Scan the QR code with WhatsApp > Linked Devices > Link a Device")
		}
	}()
	return nil
}

func (s *WebSender) Disconnect() {
	s.client.Disconnect()
	s.state.Set(entities.ConnectionStatusDisconnected, "")
}

// SendMessage sends a text message
func (s *WebSender) SendMessage(ctx context.Context, to, text string) (string, error) {
	if s.state.Status() != entities.ConnectionStatusConnected || !s.client.IsConnected() {
		return "", apperrors.NewConnectionError("WhatsApp session is not connected", nil)
	}

	number := digitsOnly(to)
	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + number})
	if err != nil {
		return "", apperrors.NewConnectionError("failed to verify number on WhatsApp", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return "", apperrors.NewExternalError(fmt.Sprintf("number %s is not registered on WhatsApp", number), nil)
	}

	sent, err := s.client.SendMessage(ctx, resp[0].JID, &waE2E.Message{Conversation: &text})
	if err != nil {
		return "", apperrors.NewConnectionError("failed to send message", err)
	}
	return sent.ID, nil
}

func (s *WebSender) handleEvent(evt interface{}) {
	switch evt := evt.(type) {
	case *events.Connected:
		s.logger.Info().Msg("Connected to WhatsApp")
		s.state.Set(entities.ConnectionStatusConnected, "")
	case *events.Disconnected:
		s.logger.Warn().Msg("Disconnected from WhatsApp")
		s.state.Set(entities.ConnectionStatusDisconnected, "")
	case *events.LoggedOut:
		s.logger.Warn().Bool("on_connect", evt.OnConnect).Msg("Logged out from WhatsApp")
		s.state.Set(entities.ConnectionStatusLoggedOut, "")
	case *events.PairSuccess:
		s.logger.Info().Str("jid", evt.ID.String()).Msg("Device paired")
	case *events.Message:
		if !evt.Info.IsFromMe {
			s.logger.Debug().Str("sender", evt.Info.Sender.String()).Msg("Ignoring inbound message")
		}
	}
}
