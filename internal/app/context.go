package app

import (
	"context"
	"fmt"

	"upkeep/internal/config"
	"upkeep/internal/domain"
	"upkeep/internal/engine"
)

// EnsureSeed makes sure the configured building and its users exist,
// creating them on first run. Subsequent runs are no-ops.
func EnsureSeed(ctx context.Context, e engine.Engine, cfg *config.Config) (domain.Building, error) {
	if cfg == nil || cfg.Seed.Building == "" {
		return domain.Building{}, nil
	}
	opts := engine.SeedOptions{BuildingName: cfg.Seed.Building}
	for _, u := range cfg.Seed.Users {
		role, err := domain.ParseRole(u.Role)
		if err != nil {
			return domain.Building{}, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		opts.Users = append(opts.Users, engine.SeedUser{Name: u.Name, Email: u.Email, Role: role})
	}
	b, err := e.Seed(ctx, opts)
	if err != nil {
		return domain.Building{}, fmt.Errorf("seed: %w", err)
	}
	return b, nil
}
