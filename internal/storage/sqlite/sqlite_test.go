package sqlitestorage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/database"
	"github.com/rflink/bridge/internal/model"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Recording{
		QueueSize:     10,
		BatchSize:     5,
		FlushInterval: time.Second,
		SQLite:        config.SQLiteConfig{DumpInterval: time.Minute, DumpPath: "/tmp/x.db"},
	})
	assert.Equal(t, Config{
		DumpInterval:  time.Minute,
		DumpPath:      "/tmp/x.db",
		BatchSize:     5,
		FlushInterval: time.Second,
		Backlog:       10,
	}, cfg)
}

func TestSessionIsDumpedToDisk(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "out", "flights.db")
	b, err := New(Config{
		DSN:           "file:sqlitestorage_dump?mode=memory&cache=shared",
		DumpPath:      dumpPath,
		FlushInterval: time.Hour,
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())

	require.NoError(t, b.StartSession(&core.Session{ID: "d1", Name: "dump", Started: time.Now()}))
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, b.RecordSample(&core.Sample{Seq: i, Time: time.Now(), Inputs: core.NeutralInputs()}))
	}
	require.NoError(t, b.EndSession())
	assert.Equal(t, dumpPath, b.ExportedFilePath())
	require.NoError(t, b.Close())

	disk := database.NewManager(zerolog.Nop())
	require.NoError(t, disk.ConnectSQLite(dumpPath))
	t.Cleanup(func() { _ = disk.Close() })

	var count int64
	require.NoError(t, disk.DB.Model(&model.Sample{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestNoDumpPath(t *testing.T) {
	b, err := New(Config{DSN: "file:sqlitestorage_nodump?mode=memory&cache=shared"}, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.StartSession(&core.Session{ID: "d2", Started: time.Now()}))
	require.NoError(t, b.EndSession())
	assert.Empty(t, b.ExportedFilePath())
	assert.NoError(t, b.Close())
}
