package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/metacircle/backend/pkg/errors"
)

// postJSON sends payload and decodes a 2xx response into out. Transport
// failures, 429 and 5xx are CONNECTION errors so the dispatcher backs off;
// other statuses are EXTERNAL errors.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return apperrors.NewInternalError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NewConnectionError("WhatsApp bridge unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewConnectionError("failed to read bridge response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return apperrors.NewConnectionError(
			fmt.Sprintf("WhatsApp bridge error (status %d)", resp.StatusCode),
			fmt.Errorf("%s", body),
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewExternalError(
			fmt.Sprintf("WhatsApp bridge rejected message (status %d)", resp.StatusCode),
			fmt.Errorf("%s", body),
		)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewExternalError("failed to unmarshal bridge response", err)
	}
	return nil
}
