package sqlite

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"

	"github.com/lingorelay/lingorelay/assets"
)

// MigrationConfig controls how migrations are applied.
type MigrationConfig struct {
	URI     string
	Verbose bool

	// TargetVersion migrates to a specific version; 0 means latest.
	TargetVersion int64
}

// RunMigrations applies the embedded SQLite migrations.
func RunMigrations(ctx context.Context, cfg MigrationConfig) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetVerbose(cfg.Verbose)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set sqlite dialect: %w", err)
	}

	uri, err := PrepareDSN(cfg.URI)
	if err != nil {
		return err
	}

	db, err := goose.OpenDBWithDriver("sqlite", uri)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	defer db.Close()

	policy := backoff.NewExponentialBackOff()
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("failed to initialize sqlite connection: %w", err)
	}

	goose.SetBaseFS(assets.EmbedMigrations)

	currentVersion, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get sqlite db version: %w", err)
	}

	if cfg.TargetVersion == 0 {
		if err := goose.Up(db, assets.SqliteMigrationDir); err != nil {
			return fmt.Errorf("failed to run sqlite migrations: %w", err)
		}
		return nil
	}

	switch {
	case cfg.TargetVersion < currentVersion:
		if err := goose.DownTo(db, assets.SqliteMigrationDir, cfg.TargetVersion); err != nil {
			return fmt.Errorf("failed to run sqlite migrations down to %v: %w", cfg.TargetVersion, err)
		}
	case cfg.TargetVersion > currentVersion:
		if err := goose.UpTo(db, assets.SqliteMigrationDir, cfg.TargetVersion); err != nil {
			return fmt.Errorf("failed to run sqlite migrations up to %v: %w", cfg.TargetVersion, err)
		}
	}

	return nil
}
