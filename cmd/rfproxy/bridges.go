package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rflink/bridge/internal/api"
	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/recorder"
	"github.com/rflink/bridge/internal/storage"
	"github.com/rflink/bridge/pkg/bridge"
	"github.com/rflink/bridge/pkg/proxy"
)

// newBridge builds the blocking bridge the server forwards to, wrapped in
// a recorder when recording is enabled.
func newBridge(stubbed bool, tel *telemetry) (bridge.Bridge, *recorder.Recorder, error) {
	var b bridge.Bridge
	source := "stub"
	if stubbed {
		tel.logger.Info("Serving stubbed bridge")
		b = proxy.NewStubBridge()
	} else {
		cfg, err := simulatorConfig(tel)
		if err != nil {
			return nil, nil, err
		}
		local, err := bridge.NewLocal(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := local.Warm(); err != nil {
			tel.logger.Warn("Simulator not reachable yet", "addr", cfg.SimulatorAddress, "error", err)
		}
		b, source = local, "local"
	}

	rec, err := newRecorder(source, tel)
	if err != nil {
		closeQuietly(b)
		return nil, nil, err
	}
	if rec == nil {
		return b, nil, nil
	}
	return recorder.Wrap(b, rec), rec, nil
}

// newAsyncBridge is newBridge for the context-driven server.
func newAsyncBridge(ctx context.Context, stubbed bool, tel *telemetry) (bridge.AsyncBridge, *recorder.Recorder, error) {
	var b bridge.AsyncBridge
	source := "stub"
	if stubbed {
		tel.logger.Info("Serving stubbed bridge")
		b = proxy.NewAsyncStubBridge()
	} else {
		cfg, err := simulatorConfig(tel)
		if err != nil {
			return nil, nil, err
		}
		local, err := bridge.NewAsyncLocal(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := local.Warm(ctx); err != nil {
			tel.logger.Warn("Simulator not reachable yet", "addr", cfg.SimulatorAddress, "error", err)
		}
		b, source = local, "local_async"
	}

	rec, err := newRecorder(source, tel)
	if err != nil {
		closeQuietly(b)
		return nil, nil, err
	}
	if rec == nil {
		return b, nil, nil
	}
	return recorder.WrapAsync(b, rec), rec, nil
}

func simulatorConfig(tel *telemetry) (bridge.Configuration, error) {
	sim, err := config.GetSimulator()
	if err != nil {
		return bridge.Configuration{}, err
	}
	cfg := sim.Bridge()
	cfg.Logger = tel.logger.With("component", "bridge")
	return cfg, nil
}

// newRecorder returns nil when recording is disabled.
func newRecorder(source string, tel *telemetry) (*recorder.Recorder, error) {
	rc, err := config.GetRecording()
	if err != nil {
		return nil, err
	}
	backend, err := storage.NewBackend(rc, storage.Loggers{Slog: tel.logger, Zero: tel.zlog})
	if errors.Is(err, storage.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	opts := recorder.Options{
		Name:      rc.SessionName,
		Source:    source,
		QueueSize: rc.QueueSize,
		Logger:    tel.logger,
	}
	if rc.Upload.URL != "" {
		client := api.New(rc.Upload.URL, rc.Upload.APIKey)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Healthcheck(ctx)
		cancel()
		if err != nil {
			tel.logger.Warn("Flight-log server not reachable", "url", rc.Upload.URL, "error", err)
		}
		opts.Uploader = client
	}
	return recorder.New(backend, opts)
}

func closeQuietly(b any) {
	if c, ok := b.(io.Closer); ok {
		_ = c.Close()
	}
}
