package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName identifies the proxy in OTel and GELF records.
const ServiceName = "rfproxy"

// Outputs selects where Setup sends records.
type Outputs struct {
	// File receives text records. When set, the console gets nothing.
	File io.Writer
	// Console is used without a File. Defaults to os.Stdout.
	Console io.Writer
	// Provider enables the otelslog bridge.
	Provider *sdklog.LoggerProvider
	// Graylog ships records as GELF.
	Graylog *gelf.Writer
	// Context adds live attributes to every record.
	Context ContextProvider
}

// SlogManager owns the process logger and the OTel provider it feeds.
type SlogManager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// ParseLevel accepts slog level names in any case plus "warning".
// Anything else is info.
func ParseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Setup replaces the logger. Records go to out.File, or to the console
// without one, and to OTel and Graylog when configured.
func (m *SlogManager) Setup(level string, out Outputs) {
	lvl := ParseLevel(level)
	m.provider = out.Provider

	w := out.File
	if w == nil {
		w = out.Console
	}
	if w == nil {
		w = os.Stdout
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: utcTime}),
	}
	if out.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(out.Provider)))
	}
	if out.Graylog != nil {
		handlers = append(handlers, NewGELFHandler(out.Graylog, lvl))
	}

	m.logger = slog.New(Enrich(NewFanout(handlers...), out.Context))
	m.logger.Info("Logging initialized", "level", lvl.String())
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush exports pending OTel records.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
