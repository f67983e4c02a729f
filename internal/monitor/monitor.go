// Package monitor periodically writes the proxy's status to a JSON file
// and the log.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rflink/bridge/internal/recorder"
	"github.com/rflink/bridge/pkg/core"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Statistics func() core.Statistics
	Clients    func() int
	// Recorder is nil when recording is disabled.
	Recorder   *recorder.Recorder
	StatusPath string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is one snapshot written to the status file.
type Status struct {
	Time       time.Time       `json:"time"`
	Uptime     string          `json:"uptime"`
	Clients    int             `json:"clients"`
	Statistics core.Statistics `json:"statistics"`
	Session    string          `json:"session,omitempty"`
	Recording  *recorder.Stats `json:"recording,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	started   time.Time
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{
		deps:    deps,
		started: time.Now(),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current program status.
func (s *Service) Status() Status {
	st := Status{
		Time:   time.Now().UTC(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Statistics != nil {
		st.Statistics = s.deps.Statistics()
	}
	if s.deps.Clients != nil {
		st.Clients = s.deps.Clients()
	}
	if s.deps.Recorder != nil {
		rs := s.deps.Recorder.Stats()
		st.Recording = &rs
		st.Session = s.deps.Recorder.Session().ID
	}
	return st
}

// WriteStatus replaces the status file with the current status.
func (s *Service) WriteStatus() error {
	if s.deps.StatusPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.Status(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := s.deps.StatusPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, s.deps.StatusPath)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.StatusPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.deps.StatusPath), 0o755); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("create status dir: %w", err)
		}
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "interval", s.deps.Interval, "path", s.deps.StatusPath)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				st := s.Status()
				logger.Debug("Proxy status", "clients", st.Clients, "uptime", st.Uptime)
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
