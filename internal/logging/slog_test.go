package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestSetup_FileSilencesConsole(t *testing.T) {
	var file, console bytes.Buffer
	m := NewSlogManager()
	m.Setup("info", Outputs{File: &file, Console: &console})
	m.Logger().Info("pool warmed", "connections", 2)

	assert.Contains(t, file.String(), "Logging initialized")
	assert.Contains(t, file.String(), "connections=2")
	assert.Empty(t, console.String())
}

func TestSetup_ConsoleWithoutFile(t *testing.T) {
	var console bytes.Buffer
	m := NewSlogManager()
	m.Setup("info", Outputs{Console: &console})
	m.Logger().Info("listening")

	assert.Contains(t, console.String(), "listening")
}

func TestSetup_LevelFilters(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(tt.level, Outputs{File: &buf})
			m.Logger().Debug("dbg-line")
			m.Logger().Info("info-line")

			assert.Equal(t, tt.debugSeen, bytes.Contains(buf.Bytes(), []byte("dbg-line")))
			assert.Equal(t, tt.infoSeen, bytes.Contains(buf.Bytes(), []byte("info-line")))
		})
	}
}

func TestSetup_TimeIsUTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup("info", Outputs{File: &buf})
	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, buf.String())
}

func TestSetup_Replaces(t *testing.T) {
	var first, second bytes.Buffer
	m := NewSlogManager()

	m.Setup("info", Outputs{File: &first})
	m.Logger().Info("one")
	m.Setup("info", Outputs{File: &second})
	m.Logger().Info("two")

	assert.NotContains(t, first.String(), "two")
	assert.Contains(t, second.String(), "two")
}

func TestSetup_WithProvider(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup("info", Outputs{File: &buf, Provider: sdklog.NewLoggerProvider()})
	m.Logger().Info("exported")

	assert.Contains(t, buf.String(), "exported")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
