// Package connect opens a Database from a config.Config, picking the
// engine package by database.driver.
package connect

import (
	"context"

	"github.com/koustreak/rowbind/internal/config"
	"github.com/koustreak/rowbind/internal/database"
	"github.com/koustreak/rowbind/internal/database/mysql"
	"github.com/koustreak/rowbind/internal/database/postgres"
	"github.com/koustreak/rowbind/internal/database/sqldb"
	"github.com/koustreak/rowbind/internal/database/sqlite"
	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/logger"
)

// Open validates cfg, connects to the configured engine and returns a
// Database carrying the configured logger and ORM policy. Extra options
// are applied last.
func Open(ctx context.Context, cfg *config.Config, opts ...database.Option) (*database.Database, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(&cfg.Log)
	log.DebugWith("connecting", map[string]any{"driver": string(cfg.Database.Driver)})

	drv, err := openDriver(ctx, cfg.Database)
	if err != nil {
		log.ErrorWith("connection failed", err, map[string]any{"driver": string(cfg.Database.Driver)})
		return nil, err
	}

	log.Info("database opened")

	base := []database.Option{
		database.WithLogger(log),
		database.WithDropOldColumns(cfg.ORM.DropOldColumns),
		database.WithAutoReset(cfg.ORM.AutoReset),
	}
	return database.New(drv, append(base, opts...)...), nil
}

func openDriver(ctx context.Context, cfg config.Database) (*sqldb.Driver, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		return mysql.Open(ctx, cfg)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg)
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg)
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported database.driver %q", cfg.Driver)
	}
}
