package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/logging"
	intOtel "github.com/rflink/bridge/internal/otel"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// telemetry owns the process loggers and their outputs.
type telemetry struct {
	logger  *slog.Logger
	zlog    zerolog.Logger
	slogMgr *logging.SlogManager
	otel    *intOtel.Provider
	graylog *gelf.Writer
	logFile *os.File

	statistics atomic.Pointer[func() core.Statistics]
}

func setupTelemetry(start time.Time) (*telemetry, error) {
	t := &telemetry{slogMgr: logging.NewSlogManager()}
	level := config.GetString("logLevel")

	var fileOut io.Writer
	logsDir := config.GetString("logsDir")
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logs dir: %w", err)
		}
		path := logging.LogFilePath(logsDir, logging.ServiceName, start)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		t.logFile = f
		fileOut = io.MultiWriter(f, os.Stdout)
	}

	otelCfg, err := config.GetOTel()
	if err != nil {
		return nil, err
	}
	if otelCfg.Enabled {
		var w io.Writer
		if t.logFile != nil {
			w = t.logFile
		}
		t.otel, err = intOtel.New(otelCfg, w)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OTel provider: %w", err)
		}
	}

	graylogCfg, err := config.GetGraylog()
	if err != nil {
		return nil, err
	}
	var graylogErr error
	if graylogCfg.Enabled {
		t.graylog, graylogErr = logging.NewGraylogWriter(graylogCfg.Address)
	}

	var provider *sdklog.LoggerProvider
	if t.otel != nil {
		provider = t.otel.LoggerProvider()
	}
	t.slogMgr.Setup(level, logging.Outputs{
		File:     fileOut,
		Provider: provider,
		Graylog:  t.graylog,
		Context: func() []slog.Attr {
			fn := t.statistics.Load()
			if fn == nil {
				return nil
			}
			return logging.StatisticsContext(*fn)()
		},
	})
	t.logger = t.slogMgr.Logger()
	slog.SetDefault(t.logger)
	if graylogErr != nil {
		t.logger.Warn("Graylog disabled", "error", graylogErr)
	}
	if t.logFile != nil {
		t.logger.Info("Logging to file", "path", t.logFile.Name())
	}

	zout := io.Writer(os.Stderr)
	if t.logFile != nil {
		zout = t.logFile
	}
	t.zlog = logging.NewZerolog(zout, level)
	return t, nil
}

// setStatistics makes every later log record carry fn's counters.
func (t *telemetry) setStatistics(fn func() core.Statistics) {
	t.statistics.Store(&fn)
}

func (t *telemetry) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.slogMgr.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rfproxy: flushing logs: %v\n", err)
	}
	if t.otel != nil {
		_ = t.otel.Shutdown(ctx)
	}
	if t.graylog != nil {
		_ = t.graylog.Close()
	}
	if t.logFile != nil {
		_ = t.logFile.Close()
	}
}
