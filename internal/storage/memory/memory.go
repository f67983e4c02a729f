// Package memory keeps a recording in memory and exports it as JSON when
// the session ends.
package memory

import (
	"errors"
	"sync"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/geo"
	"github.com/rflink/bridge/pkg/core"
)

// ErrNoSession is returned when samples arrive outside a session.
var ErrNoSession = errors.New("no session started")

// Backend stores samples in memory and exports them to JSON.
type Backend struct {
	cfg       config.MemoryConfig
	projector *geo.Projector

	session *core.Session
	samples []core.Sample
	track   geo.Track

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend. A nil projector skips the GeoJSON
// track.
func New(cfg config.MemoryConfig, projector *geo.Projector) *Backend {
	return &Backend{
		cfg:       cfg,
		projector: projector,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins a new recording, discarding any samples held from
// the previous one.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.samples = nil
	b.track = geo.Track{}
	return nil
}

// EndSession exports the recording. Without a session it does nothing.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	if b.session.Ended.IsZero() {
		if n := len(b.samples); n > 0 {
			b.session.Ended = b.samples[n-1].Time
		} else {
			b.session.Ended = b.session.Started
		}
	}
	err := b.exportJSON()
	b.session = nil
	return err
}

// RecordSample appends a sample to the current session.
func (b *Backend) RecordSample(s *core.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	b.samples = append(b.samples, *s)
	if b.projector != nil {
		b.track.Add(b.projector.State(&s.State))
	}
	return nil
}

// Samples returns a copy of the samples recorded in the current session.
func (b *Backend) Samples() []core.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// ExportedFilePath returns the file written by the last EndSession.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
