package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/api/middleware"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, errorResponse{
		Error: message,
		Code:  string(codeForStatus(statusCode)),
	})
}

// statusFor maps an application error type to its HTTP status
func statusFor(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeSlotUnavailable, apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeSosCreditExhausted:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrorTypeConnection, apperrors.ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) apperrors.ErrorType {
	switch status {
	case http.StatusBadRequest:
		return apperrors.ErrorTypeValidation
	case http.StatusUnauthorized:
		return apperrors.ErrorTypeUnauthorized
	case http.StatusNotFound:
		return apperrors.ErrorTypeNotFound
	case http.StatusConflict:
		return apperrors.ErrorTypeConflict
	case http.StatusTooManyRequests:
		return apperrors.ErrorTypeRateLimited
	case http.StatusBadGateway:
		return apperrors.ErrorTypeExternal
	default:
		return apperrors.ErrorTypeInternal
	}
}

// respondWithAppError writes err with the status and code of its type.
// Internal details are logged, not returned.
func respondWithAppError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		logger.Error().Err(err).Msg("unhandled error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := statusFor(appErr.Type)
	message := appErr.Message
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", string(appErr.Type)).Msg("request failed")
		if appErr.Type == apperrors.ErrorTypeInternal || appErr.Type == "" {
			message = "internal server error"
		}
	}
	if appErr.Type == apperrors.ErrorTypeRateLimited && appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(appErr.RetryAfter.Seconds()))))
	}

	code := appErr.Type
	if code == "" {
		code = apperrors.ErrorTypeInternal
	}
	respondWithJSON(w, status, errorResponse{Error: message, Code: string(code)})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// requireUser reads the caller identity; a missing header is a 401
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(middleware.UserIDHeader))
	if userID == "" {
		respondWithError(w, http.StatusUnauthorized, "missing "+middleware.UserIDHeader+" header")
		return "", false
	}
	return userID, true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
