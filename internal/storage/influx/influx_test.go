package influx

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/geo"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable points at a port nothing listens on, forcing the backup file.
func unreachable(t *testing.T) config.Influx {
	return config.Influx{
		Protocol:   "http",
		Host:       "127.0.0.1",
		Port:       "1",
		Org:        "rflink",
		Bucket:     "flights",
		BackupPath: filepath.Join(t.TempDir(), "backup", "influx.lp.gz"),
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestBackupFileWhenUnreachable(t *testing.T) {
	cfg := unreachable(t)
	proj, err := geo.NewProjector(geo.Position{Longitude: 8.5, Latitude: 47.25})
	require.NoError(t, err)

	b := New(cfg, proj, nil, zerolog.Nop())
	require.NoError(t, b.Init())
	assert.Equal(t, cfg.BackupPath, b.ExportedFilePath())

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.StartSession(&core.Session{ID: "f1", Name: "circuit", Source: "local", Started: started}))

	s := &core.Sample{Seq: 1, Time: started.Add(time.Second), Inputs: core.NeutralInputs()}
	s.State.Airspeed = 22.5
	s.State.IsTouchingGround = true
	s.State.CurrentAircraftStatus = "flying"
	require.NoError(t, b.RecordSample(s))
	require.NoError(t, b.EndSession())
	require.NoError(t, b.Close())

	lines := readLines(t, cfg.BackupPath)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], MeasurementSession+","))
	assert.Contains(t, lines[0], `event="start"`)

	assert.True(t, strings.HasPrefix(lines[1], MeasurementSample+","))
	assert.Contains(t, lines[1], "session=f1")
	assert.Contains(t, lines[1], "status=flying")
	assert.Contains(t, lines[1], "airspeed=22.5")
	assert.Contains(t, lines[1], "channel_0=0.5")
	assert.Contains(t, lines[1], "touching_ground=true")
	assert.Contains(t, lines[1], "latitude=")

	assert.Contains(t, lines[2], `event="end"`)
}

func TestRecordSample_RequiresSession(t *testing.T) {
	b := New(unreachable(t), nil, nil, zerolog.Nop())
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	assert.ErrorIs(t, b.RecordSample(&core.Sample{}), ErrNoSession)
	assert.NoError(t, b.EndSession())
}

func TestConnect_NoBackupPath(t *testing.T) {
	cfg := unreachable(t)
	cfg.BackupPath = ""
	b := New(cfg, nil, nil, zerolog.Nop())
	assert.Error(t, b.Init())
}
