package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/metacircle/backend/pkg/errors"
)

func TestRespondWithAppError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"validation", apperrors.NewValidationError("bad date"), http.StatusBadRequest, "VALIDATION", "bad date"},
		{"unauthorized", apperrors.NewUnauthorizedError("not yours"), http.StatusUnauthorized, "UNAUTHORIZED", "not yours"},
		{"not found", apperrors.NewNotFoundError("appointment not found"), http.StatusNotFound, "NOT_FOUND", "appointment not found"},
		{"slot unavailable", apperrors.NewSlotUnavailableError("slot taken"), http.StatusConflict, "SLOT_UNAVAILABLE", "slot taken"},
		{"conflict", apperrors.NewConflictError("already blocked"), http.StatusConflict, "CONFLICT", "already blocked"},
		{"sos exhausted", apperrors.NewSosCreditExhaustedError("no SOS credits"), http.StatusUnprocessableEntity, "SOS_CREDIT_EXHAUSTED", "no SOS credits"},
		{"rate limited", apperrors.NewRateLimitedError("slow down", 1500*time.Millisecond), http.StatusTooManyRequests, "RATE_LIMITED", "slow down"},
		{"connection", apperrors.NewConnectionError("bridge down", errors.New("dial tcp")), http.StatusBadGateway, "CONNECTION", "bridge down"},
		{"external", apperrors.NewExternalError("bridge rejected", nil), http.StatusBadGateway, "EXTERNAL", "bridge rejected"},
		{"internal hides detail", apperrors.NewInternalError("pq: relation missing", nil), http.StatusInternalServerError, "INTERNAL", "internal server error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL", "internal server error"},
		{"wrapped", fmtWrap(apperrors.NewNotFoundError("gone")), http.StatusNotFound, "NOT_FOUND", "gone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			respondWithAppError(w, zerolog.Nop(), tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Error)
		})
	}
}

func TestRespondWithAppError_RetryAfterRoundsUp(t *testing.T) {
	w := httptest.NewRecorder()
	respondWithAppError(w, zerolog.Nop(), apperrors.NewRateLimitedError("slow down", 1500*time.Millisecond))
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestRequireUser(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	w := httptest.NewRecorder()

	_, ok := requireUser(w, r)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)

	r.Header.Set("X-User-ID", " user-1 ")
	userID, ok := requireUser(httptest.NewRecorder(), r)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
