// Package secrets pulls credentials from a Vault KV mount into the process
// environment before config.Load reads it.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/pkg/retry"
)

// CredentialKeys are the environment variables a Vault entry may set.
// Anything else in the entry is ignored.
var CredentialKeys = []string{
	"DB_PASSWORD",
	"REDIS_PASSWORD",
	"EVOLUTION_API_KEY",
	"WHATSAPP_ACCESS_TOKEN",
}

// VaultConfig locates the KV entry holding the credentials
type VaultConfig struct {
	Enabled   bool
	Addr      string
	Token     string
	Namespace string
	Mount     string
	Path      string
	KVVersion int
	Timeout   time.Duration
	// Overwrite replaces variables that are already set
	Overwrite bool
	Retry     retry.Config
}

// Result summarizes what was applied
type Result struct {
	Path    string
	Loaded  []string
	Skipped []string
}

// ConfigFromEnv reads VAULT_* variables
func ConfigFromEnv() VaultConfig {
	cfg := VaultConfig{
		Enabled:   strings.EqualFold(os.Getenv("VAULT_ENABLED"), "true"),
		Addr:      os.Getenv("VAULT_ADDR"),
		Token:     os.Getenv("VAULT_TOKEN"),
		Namespace: os.Getenv("VAULT_NAMESPACE"),
		Mount:     envOr("VAULT_MOUNT", "secret"),
		Path:      envOr("VAULT_PATH", "metacircle/backend"),
		KVVersion: 2,
		Timeout:   5 * time.Second,
		Overwrite: strings.EqualFold(os.Getenv("VAULT_OVERWRITE"), "true"),
		Retry: retry.Config{
			MaxAttempts:     4,
			InitialDelay:    250 * time.Millisecond,
			MaxDelay:        2 * time.Second,
			BackoffFactor:   2,
			MaxTotalTimeout: 15 * time.Second,
		},
	}
	if v, err := strconv.Atoi(os.Getenv("VAULT_KV_VERSION")); err == nil {
		cfg.KVVersion = v
	}
	if v, err := strconv.Atoi(os.Getenv("VAULT_TIMEOUT_MS")); err == nil && v > 0 {
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	return cfg
}

// errPermanent marks responses that retrying will not fix
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Apply fetches the configured entry and exports the credential keys it holds.
// A disabled config is a no-op.
func Apply(ctx context.Context, cfg VaultConfig, logger zerolog.Logger) (Result, error) {
	res := Result{Path: cfg.Path}
	if !cfg.Enabled {
		return res, nil
	}
	if cfg.Addr == "" || cfg.Token == "" || cfg.Path == "" {
		return res, errors.New("vault configuration incomplete (VAULT_ADDR, VAULT_TOKEN, VAULT_PATH)")
	}

	url, err := buildURL(cfg.Addr, cfg.Mount, cfg.Path, cfg.KVVersion)
	if err != nil {
		return res, err
	}

	client := &http.Client{Timeout: cfg.Timeout}
	var data map[string]interface{}
	var permanent error
	fetch := func() error {
		d, err := fetchEntry(ctx, client, url, cfg)
		if err != nil {
			var p errPermanent
			if errors.As(err, &p) {
				// stop retrying but keep the cause
				permanent = p.err
				return nil
			}
			return err
		}
		data = d
		return nil
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if err := retry.DoWithLog(ctx, cfg.Retry, "vault", fetch, &logger); err != nil {
		return res, err
	}
	if permanent != nil {
		return res, permanent
	}

	for _, key := range CredentialKeys {
		value, ok := data[key]
		if !ok {
			continue
		}
		if !cfg.Overwrite && os.Getenv(key) != "" {
			res.Skipped = append(res.Skipped, key)
			continue
		}
		if err := os.Setenv(key, stringify(value)); err != nil {
			return res, fmt.Errorf("failed to export %s: %w", key, err)
		}
		res.Loaded = append(res.Loaded, key)
	}

	logger.Info().
		Str("path", cfg.Path).
		Strs("loaded", res.Loaded).
		Int("skipped", len(res.Skipped)).
		Msg("applied vault credentials")
	return res, nil
}

func fetchEntry(ctx context.Context, client *http.Client, url string, cfg VaultConfig) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errPermanent{err}
	}
	req.Header.Set("X-Vault-Token", cfg.Token)
	if cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.Namespace)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("vault fetch failed: %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errPermanent{fmt.Errorf("vault fetch failed: %s %s", resp.Status, strings.TrimSpace(string(body)))}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errPermanent{fmt.Errorf("invalid vault response: %w", err)}
	}
	data, err := extractData(payload, cfg.KVVersion)
	if err != nil {
		return nil, errPermanent{err}
	}
	return data, nil
}

func buildURL(addr, mount, path string, kvVersion int) (string, error) {
	addr = strings.TrimRight(addr, "/")
	mount = strings.Trim(mount, "/")
	path = strings.TrimLeft(path, "/")
	if addr == "" || mount == "" || path == "" {
		return "", errors.New("vault address, mount, and path must be set")
	}
	if kvVersion == 1 {
		return fmt.Sprintf("%s/v1/%s/%s", addr, mount, path), nil
	}
	return fmt.Sprintf("%s/v1/%s/data/%s", addr, mount, path), nil
}

func extractData(payload map[string]interface{}, kvVersion int) (map[string]interface{}, error) {
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault response missing data for KV v%d", kvVersion)
	}
	if kvVersion == 1 {
		return data, nil
	}
	if inner, ok := data["data"].(map[string]interface{}); ok {
		return inner, nil
	}
	return nil, errors.New("vault response missing data for KV v2")
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
