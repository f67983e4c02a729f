// Package recorder captures exchanges made through a bridge and hands them
// to a storage backend without slowing the control loop.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rflink/bridge/internal/api"
	"github.com/rflink/bridge/internal/dispatcher"
	"github.com/rflink/bridge/internal/remote"
	"github.com/rflink/bridge/internal/storage"
	"github.com/rflink/bridge/pkg/core"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 4096

// Uploader archives an exported recording. *api.Client implements it.
type Uploader interface {
	Upload(filePath string, meta api.Metadata) error
}

// Options configures a Recorder.
type Options struct {
	Name      string
	Source    string
	QueueSize int
	Logger    *slog.Logger
	// Uploader, when set, receives the backend's export after Close.
	Uploader Uploader
}

// Stats counts what happened to recorded exchanges.
type Stats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
}

// Recorder owns one session on a backend. Record queues an exchange and
// returns at once; a single worker assigns sequence numbers and writes
// samples in arrival order.
type Recorder struct {
	backend  storage.Backend
	disp     *dispatcher.Dispatcher
	logger   *slog.Logger
	uploader Uploader

	sessionMu sync.RWMutex
	session   core.Session // Ended is written by Close under sessionMu

	seq      uint64 // worker only
	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New initializes backend and starts a session on it.
func New(backend storage.Backend, opts Options) (*Recorder, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	r := &Recorder{
		backend:  backend,
		logger:   opts.Logger.With("component", "recorder"),
		uploader: opts.Uploader,
		session: core.Session{
			ID:      uuid.NewString(),
			Name:    opts.Name,
			Source:  opts.Source,
			Started: time.Now().UTC(),
		},
	}

	disp, err := dispatcher.New(r.logger)
	if err != nil {
		return nil, fmt.Errorf("recorder dispatcher: %w", err)
	}
	disp.Register(remote.TagExchangeResponse, r.handle, dispatcher.Buffered(opts.QueueSize))

	if err := backend.Init(); err != nil {
		disp.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := backend.StartSession(&r.session); err != nil {
		disp.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	r.disp = disp
	r.logger.Info("Recording started", "session", r.session.ID, "name", r.session.Name)
	return r, nil
}

// Session returns the session being recorded.
func (r *Recorder) Session() core.Session {
	r.sessionMu.RLock()
	defer r.sessionMu.RUnlock()
	return r.session
}

// Record queues one exchange. A full queue drops it.
func (r *Recorder) Record(in core.ControlInputs, st core.SimulatorState) {
	msg := remote.ExchangeResponse(st)
	msg.Inputs = in
	_, err := r.disp.Dispatch(context.Background(), dispatcher.Event{
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.dropped.Add(1)
		if errors.Is(err, dispatcher.ErrQueueFull) {
			r.logger.Debug("Recording queue full, sample dropped")
		}
	}
}

func (r *Recorder) handle(_ context.Context, e dispatcher.Event) (remote.Message, error) {
	r.seq++
	s := core.Sample{
		Seq:    r.seq,
		Time:   e.Timestamp,
		Inputs: e.Message.Inputs,
		State:  e.Message.State,
	}
	if err := r.backend.RecordSample(&s); err != nil {
		r.failed.Add(1)
		return remote.Message{}, err
	}
	r.recorded.Add(1)
	return remote.Ack(), nil
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}

// Close drains queued samples, ends the session and closes the backend.
// An export is then handed to the uploader; upload failures are logged.
// Later calls return the first result.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.disp.Close()
		r.sessionMu.Lock()
		r.session.Ended = time.Now().UTC()
		r.sessionMu.Unlock()
		endErr := r.backend.EndSession()
		closeErr := r.backend.Close()
		r.closeErr = errors.Join(endErr, closeErr)

		st := r.Stats()
		r.logger.Info("Recording stopped",
			"session", r.session.ID,
			"recorded", st.Recorded,
			"dropped", st.Dropped,
			"failed", st.Failed,
		)
		if exp, ok := r.backend.(storage.Exporter); ok && exp.ExportedFilePath() != "" {
			r.logger.Info("Recording exported", "path", exp.ExportedFilePath())
			r.upload(exp.ExportedFilePath(), st)
		}
	})
	return r.closeErr
}

func (r *Recorder) upload(path string, st Stats) {
	if r.uploader == nil {
		return
	}
	err := r.uploader.Upload(path, api.Metadata{
		SessionID:       r.session.ID,
		SessionName:     r.session.Name,
		Source:          r.session.Source,
		DurationSeconds: r.session.Ended.Sub(r.session.Started).Seconds(),
		Samples:         st.Recorded,
	})
	if err != nil {
		r.logger.Warn("Recording upload failed", "path", path, "error", err)
		return
	}
	r.logger.Info("Recording uploaded", "path", path)
}
