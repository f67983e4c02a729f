package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/geo"
	gormstorage "github.com/rflink/bridge/internal/storage/gorm"
	"github.com/rflink/bridge/internal/storage/influx"
	"github.com/rflink/bridge/internal/storage/memory"
	"github.com/rflink/bridge/internal/storage/postgres"
	sqlitestorage "github.com/rflink/bridge/internal/storage/sqlite"
	"github.com/rflink/bridge/internal/storage/websocket"
	"github.com/rs/zerolog"
)

// ErrDisabled is returned by NewBackend when recording is switched off.
var ErrDisabled = errors.New("recording disabled")

// Loggers carries the loggers backends write to: slog for the backends,
// zerolog for the database and InfluxDB managers.
type Loggers struct {
	Slog *slog.Logger
	Zero zerolog.Logger
}

// NewBackend creates the backend cfg.Backend names. The backend is not
// initialized.
func NewBackend(cfg config.Recording, logs Loggers) (Backend, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	proj, err := geo.NewProjector(geo.Position(cfg.Origin))
	if err != nil {
		return nil, fmt.Errorf("recording origin: %w", err)
	}

	switch cfg.Backend {
	case "memory":
		return memory.New(cfg.Memory, proj), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.ConfigFrom(cfg), proj, logs.Slog, logs.Zero)
	case "postgres":
		return postgres.New(cfg, proj, logs.Slog, logs.Zero)
	case "influx":
		return influx.New(cfg.Influx, proj, logs.Slog, logs.Zero), nil
	case "websocket":
		return websocket.New(cfg.Websocket, logs.Slog), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Backend)
	}
}

// Compile-time interface checks.
var (
	_ Backend  = (*memory.Backend)(nil)
	_ Exporter = (*memory.Backend)(nil)
	_ Backend  = (*gormstorage.Backend)(nil)
	_ Backend  = (*sqlitestorage.Backend)(nil)
	_ Exporter = (*sqlitestorage.Backend)(nil)
	_ Backend  = (*postgres.Backend)(nil)
	_ Backend  = (*influx.Backend)(nil)
	_ Exporter = (*influx.Backend)(nil)
	_ Backend  = (*websocket.Backend)(nil)
)
