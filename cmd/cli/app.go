package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/config"
	"github.com/theblitlabs/misuse-detection/internal/featurestore"
	"github.com/theblitlabs/misuse-detection/pkg/database"
	"github.com/theblitlabs/misuse-detection/pkg/logger"
)

// Flags are the persistent command line flags.
type Flags struct {
	ConfigPath string
	LogMode    string
}

// App holds what every command needs: the configuration and a logger whose
// file sink is closed by Close.
type App struct {
	Cfg    *config.Config
	Log    zerolog.Logger
	closer io.Closer
}

// Setup loads the configuration and builds the logger. A missing file at the
// default config path falls back to defaults and the environment.
func Setup(flags Flags) (*App, error) {
	path := flags.ConfigPath
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if flags.LogMode != "" {
		cfg.Logging.Mode = flags.LogMode
	}

	log, closer, err := logger.New(logger.Config{
		Mode:       logger.LogMode(cfg.Logging.Mode),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	return &App{Cfg: cfg, Log: log, closer: closer}, nil
}

func (a *App) Close() error {
	return a.closer.Close()
}

// OpenDatabase connects to the run history database. It returns nil without
// error when no database is configured.
func (a *App) OpenDatabase(ctx context.Context) (*sqlx.DB, error) {
	if a.Cfg.Database.URL == "" {
		return nil, nil
	}
	return database.Connect(ctx, a.Cfg.Database)
}

// FeatureDefinition is the default feature view with the configured offline
// path, join key and TTL.
func (a *App) FeatureDefinition() featurestore.Definition {
	def := featurestore.Default()
	fs := a.Cfg.FeatureStore
	if fs.OfflinePath != "" {
		def.SourcePath = fs.OfflinePath
	}
	if fs.EntityColumn != "" {
		def.Entity.JoinKey = fs.EntityColumn
	}
	if fs.TTL > 0 {
		def.TTL = fs.TTL
	}
	return def
}
