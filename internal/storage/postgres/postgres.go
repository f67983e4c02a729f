// Package postgres records into PostgreSQL/PostGIS through the GORM
// backend.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/database"
	"github.com/rflink/bridge/internal/geo"
	gormstorage "github.com/rflink/bridge/internal/storage/gorm"
	"github.com/rs/zerolog"
)

// Backend is the GORM backend bound to a Postgres connection it owns.
type Backend struct {
	*gormstorage.Backend
	db *database.Manager
}

// New connects to the database in cfg.DB and prepares the schema.
func New(cfg config.Recording, projector *geo.Projector, logger *slog.Logger, zlog zerolog.Logger) (*Backend, error) {
	db := database.NewManager(zlog)
	if err := db.ConnectPostgres(cfg.DB); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.Setup(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup DB: %w", err)
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:            db.DB,
			Projector:     projector,
			Logger:        logger,
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
			Backlog:       cfg.QueueSize,
		}),
		db: db,
	}, nil
}

// Close flushes queued samples and closes the connection.
func (b *Backend) Close() error {
	err := b.Backend.Close()
	if closeErr := b.db.Close(); err == nil {
		err = closeErr
	}
	return err
}
