package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/phasetrack/internal/config"
)

// NewStore creates an entity store based on the configuration. The database
// backend (default) opens and migrates the configured SQLite file or
// PostgreSQL server; the memory backend keeps nothing across restarts.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (EntityStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendDatabase, "":
		s, err := OpenDatabaseStore(ctx, cfg.DSN(), cfg.Dialect(),
			WithPageSize(cfg.Storage.PageSize),
			WithStoreLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Debug("opened entity store", "backend", config.BackendDatabase, "dialect", cfg.Dialect())
		}
		return s, nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
