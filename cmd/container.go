package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/dig"

	"lotteryfactor/api"
	"lotteryfactor/config"
	"lotteryfactor/db"
	"lotteryfactor/github"
	"lotteryfactor/logger"
	"lotteryfactor/report"
	"lotteryfactor/service"
)

// newContainer registers every component. Providers run lazily, so a command
// only opens what it invokes.
func newContainer(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		provideConfig,
		func(cfg *config.Config) (*db.DB, error) {
			return db.New(ctx, cfg)
		},
		provideGitHubClient,
		func(database *db.DB, client *github.Client) *service.Syncer {
			return service.NewSyncer(database, client)
		},
		func(database *db.DB) *report.Builder {
			return report.NewBuilder(database)
		},
		func(cfg *config.Config, database *db.DB, builder *report.Builder) http.Handler {
			return api.NewRouter(database, builder, cfg.Days)
		},
	}
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, fmt.Errorf("failed to register provider: %w", err)
		}
	}
	return container, nil
}

func provideConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func provideGitHubClient(cfg *config.Config) (*github.Client, error) {
	if err := cfg.RequireGitHubToken(); err != nil {
		return nil, err
	}
	return github.NewClient(cfg.GitHubToken)
}
