package notifications

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
	"github.com/metacircle/backend/pkg/config"
)

// Provider names accepted in WHATSAPP_PROVIDER
const (
	ProviderEvolution = "evolution"
	ProviderCloud     = "cloud"
	ProviderWeb       = "web"
	ProviderLog       = "log"
)

// Bridge is the configured sender plus its session state. Close releases the
// session, if any.
type Bridge struct {
	Sender providers.MessageSender
	State  *ConnectionState
	Close  func()
}

// NewBridge builds the sender selected by cfg.Provider. Only the web sender
// reports real session changes; HTTP bridges are marked connected up front.
func NewBridge(ctx context.Context, cfg config.WhatsAppConfig, logger zerolog.Logger) (*Bridge, error) {
	state := NewConnectionState(cfg.DefaultAccountID)
	bridge := &Bridge{State: state, Close: func() {}}

	switch cfg.Provider {
	case ProviderEvolution:
		sender, err := NewEvolutionSender(cfg.EvolutionURL, cfg.EvolutionAPIKey, cfg.EvolutionInstance, cfg.RequestTimeout, logger)
		if err != nil {
			return nil, err
		}
		bridge.Sender = sender
	case ProviderCloud:
		sender, err := NewWhatsAppCloudSender(cfg.CloudBaseURL, cfg.CloudAccessToken, cfg.CloudPhoneNumberID, cfg.RequestTimeout, logger)
		if err != nil {
			return nil, err
		}
		bridge.Sender = sender
	case ProviderWeb:
		sender, err := NewWebSender(ctx, cfg.WebDataDir, state, logger)
		if err != nil {
			return nil, err
		}
		if err := sender.Connect(ctx); err != nil {
			return nil, err
		}
		bridge.Sender = sender
		bridge.Close = sender.Disconnect
		return bridge, nil
	case ProviderLog, "":
		bridge.Sender = NewLogSender(logger)
	default:
		return nil, fmt.Errorf("unknown WhatsApp provider %q", cfg.Provider)
	}

	state.Set(entities.ConnectionStatusConnected, "")
	return bridge, nil
}
