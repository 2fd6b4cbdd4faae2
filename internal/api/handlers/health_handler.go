package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler reports process and dependency health
type HealthHandler struct {
	checks  map[string]HealthCheck
	streams *SSEHandler
	timeout time.Duration
}

func NewHealthHandler(streams *SSEHandler) *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]HealthCheck),
		streams: streams,
		timeout: 2 * time.Second,
	}
}

// AddCheck registers a named dependency check
func (h *HealthHandler) AddCheck(name string, check HealthCheck) *HealthHandler {
	h.checks[name] = check
	return h
}

// Health handles GET /health. Any failing check turns the response into a 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]interface{}{
		"status": status,
		"checks": results,
	}
	if h.streams != nil {
		body["stream_clients"] = h.streams.ClientCount()
	}
	respondWithJSON(w, code, body)
}
