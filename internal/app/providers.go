package app

import (
	"context"

	"autoclose/internal/config"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config, path ConfigPath) *AppBuilder {
	return NewAppBuilder(cfg, path)
}
