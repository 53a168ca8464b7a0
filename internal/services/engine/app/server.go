// Package app wires the engine service: storage, ledger service,
// dispatcher, and the inbound HTTP endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	httpapi "github.com/torquehq/engine/internal/services/engine/api/http"
	"github.com/torquehq/engine/internal/services/engine/domain"
	"github.com/torquehq/engine/internal/services/engine/storage/sqlite"
)

// Config defines the inputs for the engine service.
type Config struct {
	Port         int
	StoragePath  string
	ActorKind    string
	APIKey       string
	DefaultState string
	ParentKinds  []string
}

// Options bundles the config with the integration hooks: a resource
// resolver for inbound notification paths and a subscription registration
// hook run once at startup.
type Options struct {
	Config Config

	// Resolver maps a notification path to a context object. When nil, a
	// registry-backed resolver producing generic resources is used.
	Resolver httpapi.ResourceResolver

	// Subscribe registers dispatch subscriptions before the server accepts
	// traffic.
	Subscribe func(*domain.Dispatcher, *domain.Service) error
}

// Run starts the engine HTTP service and blocks until the context ends.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg.Port <= 0 {
		return errors.New("engine port is required")
	}

	store, err := sqlite.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("open engine storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close engine storage: %v", err)
		}
	}()

	registry := domain.NewRegistry()
	for _, kind := range cfg.ParentKinds {
		if _, err := registry.Register(kind); err != nil {
			return fmt.Errorf("register parent kind %q: %w", kind, err)
		}
	}

	service := domain.NewService(store, registry, cfg.ActorKind, cfg.DefaultState, time.Now)
	if err := service.VerifyIntegrity(ctx); err != nil {
		return fmt.Errorf("startup integrity check: %w", err)
	}

	dispatcher := domain.NewDispatcher()
	if opts.Subscribe != nil {
		if err := opts.Subscribe(dispatcher, service); err != nil {
			return fmt.Errorf("register subscriptions: %w", err)
		}
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = RegistryResolver(registry)
	}

	handler, err := httpapi.NewHandler(service, dispatcher, resolver, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("build notification handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	log.Printf("engine listening on %s", httpServer.Addr)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// RegistryResolver resolves registered parent kinds to generic resources.
// Unregistered kinds resolve to nil, which the endpoint reports as 404.
func RegistryResolver(registry *domain.Registry) httpapi.ResourceResolver {
	return func(_ context.Context, kind string, id int64) (domain.Context, error) {
		if registry == nil || !registry.Registered(kind) {
			return nil, nil
		}
		return &domain.Resource{Kind: kind, ID: id}, nil
	}
}
