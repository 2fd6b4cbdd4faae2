package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestThrottleKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/appointments", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "ip:10.0.0.7", ThrottleKey(r))

	r.Header.Set(UserIDHeader, "user-1")
	assert.Equal(t, "user:user-1", ThrottleKey(r))
}

func TestThrottle_RejectsBurstOverflow(t *testing.T) {
	store := NewThrottleStore(0.5, 2)
	h := Throttle(store)(okHandler())

	send := func(user string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/appointments", nil)
		r.Header.Set(UserIDHeader, user)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("user-1").Code)
	assert.Equal(t, http.StatusOK, send("user-1").Code)

	w := send("user-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests","code":"RATE_LIMITED"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, send("user-2").Code, "buckets are per caller")
}

func TestThrottle_RejectedRequestsDoNotConsumeTokens(t *testing.T) {
	store := NewThrottleStore(1000, 1)
	h := Throttle(store)(okHandler())

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(UserIDHeader, "user-1")

	h.ServeHTTP(httptest.NewRecorder(), r)
	time.Sleep(5 * time.Millisecond)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestThrottleStore_Cleanup(t *testing.T) {
	store := NewThrottleStore(1, 1, WithIdleTTL(time.Minute))
	store.get("stale", time.Now().Add(-2*time.Minute))
	store.get("fresh", time.Now())

	store.Cleanup()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.entries, "stale")
	assert.Contains(t, store.entries, "fresh")
}
