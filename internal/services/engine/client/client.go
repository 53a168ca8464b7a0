// Package client posts activity events to an external engine or webhook
// endpoint configured from the environment.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	platformconfig "github.com/torquehq/engine/internal/platform/config"
	"github.com/torquehq/engine/internal/services/engine/domain"
)

// Environment variable names, with the legacy aliases still honoured during
// the migration off the old deployment names.
const (
	EngineAPIKey       = "ENGINE_API_KEY"
	EngineURL          = "ENGINE_URL"
	WebhooksAPIKey     = "WEBHOOKS_API_KEY"
	WebhooksURL        = "WEBHOOKS_URL"
	LegacyEngineAPIKey = "WORKFLOW_ENGINE_API_KEY"
	LegacyEngineURL    = "WORKFLOW_ENGINE_URL"
	LegacyHooksAPIKey  = "FABBED_HOOKS_API_KEY"
	LegacyHooksURL     = "FABBED_HOOKS_URL"
)

const defaultTimeout = 10 * time.Second

// Config holds one outbound endpoint and its API key. A config with an
// empty URL is valid and produces a no-op notifier.
type Config struct {
	URL    string
	APIKey string
}

// EngineConfigFromEnv resolves the engine endpoint, preferring the
// dedicated names over the legacy aliases.
func EngineConfigFromEnv() Config {
	return configFromEnv(os.Getenv, EngineURL, LegacyEngineURL, EngineAPIKey, LegacyEngineAPIKey)
}

// WebhooksConfigFromEnv resolves the webhooks endpoint, preferring the
// dedicated names over the legacy aliases.
func WebhooksConfigFromEnv() Config {
	return configFromEnv(os.Getenv, WebhooksURL, LegacyHooksURL, WebhooksAPIKey, LegacyHooksAPIKey)
}

func configFromEnv(lookup func(string) string, urlName, legacyURLName, keyName, legacyKeyName string) Config {
	url, _ := platformconfig.FirstEnv(lookup, urlName, legacyURLName)
	key, _ := platformconfig.FirstEnv(lookup, keyName, legacyKeyName)
	return Config{URL: url, APIKey: key}
}

// Notifier posts event projections to a configured endpoint.
type Notifier struct {
	config     Config
	httpClient *http.Client
	newID      func() string
}

// New builds a notifier for the given config. A nil httpClient gets a
// default with a request timeout.
func New(config Config, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Notifier{
		config:     config,
		httpClient: httpClient,
		newID:      uuid.NewString,
	}
}

// Configured reports whether an endpoint URL is set.
func (n *Notifier) Configured() bool {
	return n != nil && n.config.URL != ""
}

// Notify posts one event projection. Unconfigured notifiers are a no-op so
// callers need not special-case optional integrations.
func (n *Notifier) Notify(ctx context.Context, event *domain.Event) error {
	if !n.Configured() {
		return nil
	}
	if event == nil {
		return errors.New("event is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Idempotency-Key", n.newID())
	if n.config.APIKey != "" {
		request.Header.Set("Authorization", "Bearer "+n.config.APIKey)
	}

	response, err := n.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("post event notification: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("event notification rejected: %s", response.Status)
	}
	return nil
}
