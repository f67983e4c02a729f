// Package gormstorage implements storage.Backend on any gorm database. Samples
// are queued and written in batches by a background goroutine so a slow
// database never stalls the recorder.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rflink/bridge/internal/geo"
	"github.com/rflink/bridge/internal/model"
	"github.com/rflink/bridge/internal/model/convert"
	"github.com/rflink/bridge/internal/queue"
	"github.com/rflink/bridge/pkg/core"
	"gorm.io/gorm"
)

// ErrNoSession is returned when samples arrive outside a session.
var ErrNoSession = errors.New("no session started")

const (
	defaultBatchSize     = 500
	defaultFlushInterval = time.Second
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB        *gorm.DB
	Projector *geo.Projector // nil leaves the position column empty
	Logger    *slog.Logger

	BatchSize     int
	FlushInterval time.Duration
	// Backlog caps queued samples while the database is unreachable; the
	// oldest are dropped past it. Zero means unbounded.
	Backlog int
}

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	deps    Dependencies
	logger  *slog.Logger
	pending *queue.Queue[model.Sample]

	mu      sync.Mutex // guards session and serializes flushes
	session *model.Session
	written uint64

	dropped  atomic.Uint64
	kick     chan struct{} // a full batch is waiting
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.BatchSize <= 0 {
		deps.BatchSize = defaultBatchSize
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		deps:    deps,
		logger:  logger.With("component", "gorm-storage"),
		pending: queue.NewBounded[model.Sample](deps.Backlog),
		kick:    make(chan struct{}, 1),
	}
}

// Init migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("no database configured")
	}
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	go b.writeLoop()
	return nil
}

// Close stops the writer and flushes what is queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.wg.Wait()
		b.stopChan = nil
	}
	return b.flushAll()
}

// StartSession inserts the session row. Samples queued from an earlier
// session are written first.
func (b *Backend) StartSession(s *core.Session) error {
	if err := b.flushAll(); err != nil {
		b.logger.Error("Failed to flush previous session", "error", err)
	}
	row := convert.CoreToSession(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	b.mu.Lock()
	b.session = &row
	b.written = 0
	b.mu.Unlock()
	b.logger.Info("Session started", "session", s.ID, "id", row.ID)
	return nil
}

// EndSession flushes the session's samples and stamps its end time and
// sample count.
func (b *Backend) EndSession() error {
	flushErr := b.flushAll()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return flushErr
	}
	end := time.Now().UTC()
	err := b.deps.DB.Model(b.session).Updates(map[string]any{
		"end_time":     end,
		"sample_count": b.written,
	}).Error
	b.logger.Info("Session ended", "session", b.session.UUID, "samples", b.written)
	b.session = nil
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return flushErr
}

// RecordSample converts and queues a sample.
func (b *Backend) RecordSample(s *core.Sample) error {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	row, err := convert.CoreToSample(*s, session.ID, b.deps.Projector)
	if err != nil {
		return err
	}
	if n := b.pending.Push(row); n > 0 {
		b.dropped.Add(uint64(n))
	}
	if b.pending.Len() >= b.deps.BatchSize {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of queued samples.
func (b *Backend) Pending() int { return b.pending.Len() }

// Dropped returns how many samples were discarded because the backlog was
// full.
func (b *Backend) Dropped() uint64 { return b.dropped.Load() }

// Samples loads the samples of session id in sequence order.
func (b *Backend) Samples(id string) ([]core.Sample, error) {
	var session model.Session
	if err := b.deps.DB.Where("uuid = ?", id).First(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to find session %s: %w", id, err)
	}
	var rows []model.Sample
	if err := b.deps.DB.Where("session_id = ?", session.ID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}
	out := make([]core.Sample, 0, len(rows))
	for _, row := range rows {
		s, err := convert.SampleToCore(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Session loads the stored session id.
func (b *Backend) Session(id string) (core.Session, error) {
	var session model.Session
	if err := b.deps.DB.Where("uuid = ?", id).First(&session).Error; err != nil {
		return core.Session{}, fmt.Errorf("failed to find session %s: %w", id, err)
	}
	return convert.SessionToCore(session), nil
}

func (b *Backend) writeLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
		case <-b.kick:
		}
		if err := b.flushAll(); err != nil {
			b.logger.Error("Failed to write samples", "error", err, "pending", b.pending.Len())
		}
	}
}

// flushAll writes batches until the queue is empty or a write fails.
func (b *Backend) flushAll() error {
	for b.pending.Len() > 0 {
		if err := b.flushBatch(); err != nil {
			return err
		}
	}
	return nil
}

// flushBatch writes one batch. A failed batch goes back to the head of the
// queue for the next attempt.
func (b *Backend) flushBatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.pending.Drain(b.deps.BatchSize)
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	if err := b.deps.DB.CreateInBatches(&batch, b.deps.BatchSize).Error; err != nil {
		for i := range batch {
			batch[i].ID = 0
		}
		if n := b.pending.Requeue(batch); n > 0 {
			b.dropped.Add(uint64(n))
		}
		return fmt.Errorf("failed to insert %d samples: %w", len(batch), err)
	}
	if b.session != nil {
		for i := range batch {
			if batch[i].SessionID == b.session.ID {
				b.written++
			}
		}
	}
	b.logger.Debug("Wrote samples", "count", len(batch), "duration", time.Since(start))
	return nil
}
