package storage_test

import (
	"testing"
	"time"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/storage"
	"github.com/rflink/bridge/internal/storage/memory"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loggers() storage.Loggers {
	return storage.Loggers{Zero: zerolog.Nop()}
}

func TestNewBackend_Memory(t *testing.T) {
	dir := t.TempDir()
	b, err := storage.NewBackend(config.Recording{
		Backend: "memory",
		Memory:  config.MemoryConfig{OutputDir: dir},
		Origin:  config.Origin{Longitude: 8.5, Latitude: 47.25},
	}, loggers())
	require.NoError(t, err)
	require.IsType(t, &memory.Backend{}, b)

	require.NoError(t, b.Init())
	start := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, b.StartSession(&core.Session{ID: "s1", Name: "factory", Started: start}))
	require.NoError(t, b.RecordSample(&core.Sample{Seq: 1, Time: start, Inputs: core.NeutralInputs()}))
	require.NoError(t, b.EndSession())
	require.NoError(t, b.Close())

	exp, ok := b.(storage.Exporter)
	require.True(t, ok)
	assert.FileExists(t, exp.ExportedFilePath())
}

func TestNewBackend_Disabled(t *testing.T) {
	for _, name := range []string{"", "none"} {
		b, err := storage.NewBackend(config.Recording{Backend: name}, loggers())
		assert.Nil(t, b)
		assert.ErrorIs(t, err, storage.ErrDisabled)
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := storage.NewBackend(config.Recording{Backend: "tape"}, loggers())
	assert.EqualError(t, err, "unknown storage type: tape")
}

func TestNewBackend_BadOrigin(t *testing.T) {
	_, err := storage.NewBackend(config.Recording{
		Backend: "memory",
		Origin:  config.Origin{Latitude: 89},
	}, loggers())
	assert.ErrorContains(t, err, "recording origin")
}
