package di

import (
	"context"
	"fmt"

	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabase opens the job store and applies pending migrations
func InitializeDatabase(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*database.DB, error) {
	db, err := database.New(database.Config{
		Driver:  database.Driver(cfg.Database.Driver),
		Path:    cfg.Database.Path,
		DSN:     cfg.Database.DSN,
		Profile: database.ProfileStandard,
		Name:    "pulse",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().
		Str("driver", cfg.Database.Driver).
		Str("path", db.Path()).
		Msg("Database ready")
	return db, nil
}
