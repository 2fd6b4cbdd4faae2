package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/metacircle/backend/pkg/errors"
)

func TestEvolutionSender_SendMessage(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		response     string
		wantID       string
		wantErrType  apperrors.ErrorType
		closeEarlier bool
	}{
		{
			name:     "accepted",
			status:   http.StatusCreated,
			response: `{"key":{"id":"BAE5F0","remoteJid":"5511999990000@s.whatsapp.net"},"status":"PENDING"}`,
			wantID:   "BAE5F0",
		},
		{
			name:        "bad request is external",
			status:      http.StatusBadRequest,
			response:    `{"error":"invalid number"}`,
			wantErrType: apperrors.ErrorTypeExternal,
		},
		{
			name:        "server error is a connection problem",
			status:      http.StatusBadGateway,
			response:    `upstream down`,
			wantErrType: apperrors.ErrorTypeConnection,
		},
		{
			name:        "missing id",
			status:      http.StatusOK,
			response:    `{"status":"PENDING"}`,
			wantErrType: apperrors.ErrorTypeExternal,
		},
		{
			name:         "unreachable bridge",
			closeEarlier: true,
			wantErrType:  apperrors.ErrorTypeConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/message/sendText/metacircle", r.URL.Path)
				assert.Equal(t, "secret", r.Header.Get("apikey"))

				var body EvolutionTextMessage
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "5511999990000", body.Number)
				assert.Equal(t, "Olá", body.Text)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			if tt.closeEarlier {
				server.Close()
			} else {
				defer server.Close()
			}

			sender, err := NewEvolutionSender(server.URL+"/", "secret", "metacircle", 2*time.Second, zerolog.Nop())
			require.NoError(t, err)

			id, err := sender.SendMessage(context.Background(), "+55 (11) 99999-0000", "Olá")
			if tt.wantErrType != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErrType, apperrors.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestEvolutionSender_RejectsEmptyRecipient(t *testing.T) {
	sender, err := NewEvolutionSender("http://localhost", "", "metacircle", time.Second, zerolog.Nop())
	require.NoError(t, err)

	_, err = sender.SendMessage(context.Background(), "n/a", "hi")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestNewEvolutionSender_RequiresInstance(t *testing.T) {
	_, err := NewEvolutionSender("http://localhost", "key", "", time.Second, zerolog.Nop())
	assert.Error(t, err)
}
