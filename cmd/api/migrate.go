package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sharifiasldev/support-service/internal/config"
	"github.com/sharifiasldev/support-service/internal/persistence"
)

func runMigrate(ctx context.Context) error {
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=postgres, got %q", cfg.Store.Driver)
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	applied, err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger)
	if err != nil {
		return err
	}
	logger.Info("migrate finished", zap.Int("files", applied), zap.String("dir", cfg.Postgres.MigrationsDir))
	return nil
}
