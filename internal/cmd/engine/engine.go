// Package engine parses engine service flags and launches the service.
package engine

import (
	"context"
	"flag"

	entrypoint "github.com/torquehq/engine/internal/platform/cmd"
	server "github.com/torquehq/engine/internal/services/engine/app"
)

// Config holds engine command configuration.
type Config struct {
	Port         int      `env:"ENGINE_PORT" envDefault:"8089"`
	StoragePath  string   `env:"ENGINE_STORAGE_PATH" envDefault:"engine.db"`
	ActorKind    string   `env:"ENGINE_ACTOR_KIND" envDefault:"user"`
	APIKey       string   `env:"ENGINE_API_KEY"`
	DefaultState string   `env:"ENGINE_DEFAULT_STATE" envDefault:"state:CREATED"`
	ParentKinds  []string `env:"ENGINE_PARENT_KINDS" envSeparator:","`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The engine HTTP server port")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "Path to the engine SQLite database")
	fs.StringVar(&cfg.ActorKind, "actor-kind", cfg.ActorKind, "The entity kind recorded as event actor")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engine HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(context.Context) error {
		return server.Run(ctx, server.Options{
			Config: server.Config{
				Port:         cfg.Port,
				StoragePath:  cfg.StoragePath,
				ActorKind:    cfg.ActorKind,
				APIKey:       cfg.APIKey,
				DefaultState: cfg.DefaultState,
				ParentKinds:  cfg.ParentKinds,
			},
		})
	})
}
