package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/mkoziy/finsync/internal/config"
	"github.com/mkoziy/finsync/internal/database"
	"github.com/mkoziy/finsync/internal/logging"
	"github.com/mkoziy/finsync/internal/migrations"
)

// app is the state shared by commands that touch the database.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *bun.DB
}

// loadConfig reads configuration and applies the global log flags.
func loadConfig(ctx context.Context, opts *RootOptions) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(ctx, opts.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	return cfg, logger, nil
}

// openApp loads config, connects to the database and, when migrate is set,
// brings the schema up to date.
func openApp(ctx context.Context, opts *RootOptions, migrate bool) (*app, error) {
	cfg, logger, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.WithFields(logrus.Fields{"driver": cfg.Database.Driver}).Debug("database connected")

	if migrate {
		if err := migrations.NewRunner(db, logging.WithComponent(logger, "migrations")).Up(ctx); err != nil {
			_ = db.Close()
			return nil, WrapExitError(ExitCommandError, "failed to migrate database", err)
		}
	}
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) component(name string) *logrus.Entry {
	return logging.WithComponent(a.logger, name)
}

func (a *app) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
