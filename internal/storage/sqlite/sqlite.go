// Package sqlitestorage records into an in-memory SQLite database and dumps
// it to disk periodically and at the end of every session via VACUUM INTO.
// It wraps the GORM backend; the SQLite-specific parts are the in-memory
// database and the dumps.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/database"
	"github.com/rflink/bridge/internal/geo"
	gormstorage "github.com/rflink/bridge/internal/storage/gorm"
	"github.com/rs/zerolog"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DSN           string // empty uses the shared in-memory database
	DumpInterval  time.Duration
	DumpPath      string // path for VACUUM INTO dumps; empty disables them
	BatchSize     int
	FlushInterval time.Duration
	Backlog       int
}

// ConfigFrom builds a Config from the recording settings.
func ConfigFrom(r config.Recording) Config {
	return Config{
		DumpInterval:  r.SQLite.DumpInterval,
		DumpPath:      r.SQLite.DumpPath,
		BatchSize:     r.BatchSize,
		FlushInterval: r.FlushInterval,
		Backlog:       r.QueueSize,
	}
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *database.Manager
	cfg      Config
	log      *slog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New opens the database and creates the backend.
func New(cfg Config, projector *geo.Projector, logger *slog.Logger, zlog zerolog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := database.NewManager(zlog)
	if err := db.ConnectSQLite(cfg.DSN); err != nil {
		return nil, fmt.Errorf("failed to create SQLite DB: %w", err)
	}
	if err := db.Setup(); err != nil {
		_ = db.Close()
		return nil, err
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:            db.DB,
		Projector:     projector,
		Logger:        logger,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Backlog:       cfg.Backlog,
	})

	return &Backend{
		Backend: gormBackend,
		db:      db,
		cfg:     cfg,
		log:     logger.With("component", "sqlite-storage"),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" {
		if err := os.MkdirAll(filepath.Dir(b.cfg.DumpPath), 0755); err != nil {
			return fmt.Errorf("failed to create dump directory: %w", err)
		}
	}

	b.stopChan = make(chan struct{})
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// EndSession closes the session and dumps the database.
func (b *Backend) EndSession() error {
	if err := b.Backend.EndSession(); err != nil {
		return err
	}
	return b.dump()
}

// Close stops the dump goroutine, flushes the GORM backend and writes a
// final dump.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.wg.Wait()
		b.stopChan = nil
	}
	err := b.Backend.Close()
	if dumpErr := b.dump(); err == nil {
		err = dumpErr
	}
	if closeErr := b.db.Close(); err == nil {
		err = closeErr
	}
	return err
}

// ExportedFilePath returns the dump file.
func (b *Backend) ExportedFilePath() string { return b.cfg.DumpPath }

func (b *Backend) dump() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	return b.db.DumpToDisk(b.cfg.DumpPath)
}

// dumpLoop periodically dumps the database to disk. VACUUM INTO takes a
// point-in-time snapshot, so recording continues meanwhile.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			} else {
				b.log.Debug("Dumped to disk", "duration", time.Since(start))
			}
		}
	}
}
