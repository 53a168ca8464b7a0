package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/torquehq/engine/internal/services/engine/domain"
)

func TestConfigFromEnvPrefersDedicatedNames(t *testing.T) {
	t.Parallel()

	values := map[string]string{
		EngineURL:          "https://engine.example.com/events",
		LegacyEngineURL:    "https://legacy.example.com/events",
		LegacyEngineAPIKey: "legacy-key",
	}
	lookup := func(name string) string { return values[name] }

	config := configFromEnv(lookup, EngineURL, LegacyEngineURL, EngineAPIKey, LegacyEngineAPIKey)
	if config.URL != "https://engine.example.com/events" {
		t.Fatalf("expected the dedicated url, got %q", config.URL)
	}
	if config.APIKey != "legacy-key" {
		t.Fatalf("expected the legacy key fallback, got %q", config.APIKey)
	}
}

func TestConfigFromEnvEmptyWhenUnset(t *testing.T) {
	t.Parallel()

	lookup := func(string) string { return "" }
	config := configFromEnv(lookup, WebhooksURL, LegacyHooksURL, WebhooksAPIKey, LegacyHooksAPIKey)
	if config.URL != "" || config.APIKey != "" {
		t.Fatalf("expected an empty config, got %+v", config)
	}
}

func TestNotifyUnconfiguredIsNoOp(t *testing.T) {
	t.Parallel()

	notifier := New(Config{}, nil)
	if notifier.Configured() {
		t.Fatal("expected unconfigured notifier")
	}
	if err := notifier.Notify(context.Background(), nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestNotifyPostsEventProjection(t *testing.T) {
	t.Parallel()

	var (
		gotAuth        string
		gotContentType string
		gotIdempotency string
		gotBody        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := New(Config{URL: server.URL, APIKey: "secret"}, server.Client())
	event := &domain.Event{
		ID:      7,
		Created: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		Target:  "job",
		Action:  "confirmed",
		Data:    map[string]any{"note": "x"},
		Parent:  &domain.ParentRef{Kind: "job", ID: 3},
	}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotContentType)
	}
	if gotIdempotency == "" {
		t.Fatal("expected an idempotency key")
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["type"] != "job:confirmed" {
		t.Fatalf("expected compound type, got %v", payload["type"])
	}
	parent, ok := payload["parent"].(map[string]any)
	if !ok || parent["type"] != "job" {
		t.Fatalf("expected parent projection, got %v", payload["parent"])
	}
}

func TestNotifyOmitsAuthWithoutKey(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	notifier := New(Config{URL: server.URL}, server.Client())
	if err := notifier.Notify(context.Background(), &domain.Event{Target: "job", Action: "created"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected no auth header, got %q", gotAuth)
	}
}

func TestNotifyReportsRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := New(Config{URL: server.URL}, server.Client())
	if err := notifier.Notify(context.Background(), &domain.Event{Target: "job", Action: "created"}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestNotifyRequiresEventWhenConfigured(t *testing.T) {
	t.Parallel()

	notifier := New(Config{URL: "https://example.com"}, nil)
	if err := notifier.Notify(context.Background(), nil); err == nil {
		t.Fatal("expected missing event error")
	}
}
