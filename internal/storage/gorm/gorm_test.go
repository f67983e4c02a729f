package gormstorage

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rflink/bridge/internal/database"
	"github.com/rflink/bridge/internal/geo"
	"github.com/rflink/bridge/internal/model"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// newTestDB opens a private in-memory SQLite database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	m := database.NewManager(zerolog.Nop())
	dsn := fmt.Sprintf("file:gormstorage_%d?mode=memory&cache=shared", dbSeq.Add(1))
	require.NoError(t, m.ConnectSQLite(dsn))
	t.Cleanup(func() { _ = m.Close() })
	return m.DB
}

func newTestBackend(t *testing.T, deps Dependencies) *Backend {
	t.Helper()
	if deps.DB == nil {
		deps.DB = newTestDB(t)
	}
	if deps.FlushInterval == 0 {
		deps.FlushInterval = time.Hour
	}
	b := New(deps)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testSample(seq uint64) *core.Sample {
	s := &core.Sample{
		Seq:    seq,
		Time:   time.Date(2024, 5, 1, 12, 0, int(seq), 0, time.UTC),
		Inputs: core.NeutralInputs(),
	}
	s.State.Airspeed = float64(seq)
	s.State.AltitudeASL = 100 + float64(seq)
	s.State.AircraftPositionX = float64(seq) * 5
	s.State.CurrentAircraftStatus = "flying"
	return s
}

func session(id string) *core.Session {
	return &core.Session{ID: id, Name: "circuit", Source: "local", Started: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestInit_RequiresDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
}

func TestRecordSample_RequiresSession(t *testing.T) {
	b := newTestBackend(t, Dependencies{})
	assert.ErrorIs(t, b.RecordSample(testSample(1)), ErrNoSession)
}

func TestRecordSample_QueuesUntilFlush(t *testing.T) {
	b := newTestBackend(t, Dependencies{BatchSize: 100})
	require.NoError(t, b.StartSession(session("s1")))

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, b.RecordSample(testSample(i)))
	}
	assert.Equal(t, 3, b.Pending())

	require.NoError(t, b.EndSession())
	assert.Zero(t, b.Pending())

	samples, err := b.Samples("s1")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for i, s := range samples {
		want := testSample(uint64(i + 1))
		assert.Equal(t, want.Seq, s.Seq)
		assert.Equal(t, want.Inputs, s.Inputs)
		assert.Equal(t, want.State, s.State)
	}
}

func TestEndSession_StampsSession(t *testing.T) {
	b := newTestBackend(t, Dependencies{})
	require.NoError(t, b.StartSession(session("s2")))
	require.NoError(t, b.RecordSample(testSample(1)))
	require.NoError(t, b.RecordSample(testSample(2)))
	require.NoError(t, b.EndSession())

	stored, err := b.Session("s2")
	require.NoError(t, err)
	assert.Equal(t, "circuit", stored.Name)
	assert.False(t, stored.Ended.IsZero())

	var row model.Session
	require.NoError(t, b.deps.DB.Where("uuid = ?", "s2").First(&row).Error)
	assert.Equal(t, uint64(2), row.SampleCount)

	// A second EndSession has nothing to do.
	assert.NoError(t, b.EndSession())
}

func TestFullBatchIsWrittenInBackground(t *testing.T) {
	b := newTestBackend(t, Dependencies{BatchSize: 2})
	require.NoError(t, b.StartSession(session("s3")))

	require.NoError(t, b.RecordSample(testSample(1)))
	require.NoError(t, b.RecordSample(testSample(2)))

	assert.Eventually(t, func() bool {
		var count int64
		b.deps.DB.Model(&model.Sample{}).Count(&count)
		return count == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPromotedColumnsAndPosition(t *testing.T) {
	proj, err := geo.NewProjector(geo.Position{Longitude: -1.5, Latitude: 52})
	require.NoError(t, err)

	b := newTestBackend(t, Dependencies{Projector: proj})
	require.NoError(t, b.StartSession(session("s4")))
	require.NoError(t, b.RecordSample(testSample(3)))
	require.NoError(t, b.EndSession())

	var row model.Sample
	require.NoError(t, b.deps.DB.First(&row).Error)
	assert.Equal(t, 3.0, row.Airspeed)
	assert.Equal(t, "flying", row.Status)

	coords, ok := row.Position.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 52, coords.XY.Y, 0.01)
	assert.InDelta(t, -1.5, coords.XY.X, 0.01)
}

func TestFailedWriteIsRequeued(t *testing.T) {
	b := newTestBackend(t, Dependencies{})
	require.NoError(t, b.StartSession(session("s5")))
	require.NoError(t, b.RecordSample(testSample(1)))

	require.NoError(t, b.deps.DB.Migrator().DropTable(&model.Sample{}))
	assert.Error(t, b.flushAll())
	assert.Equal(t, 1, b.Pending())

	require.NoError(t, b.deps.DB.AutoMigrate(&model.Sample{}))
	require.NoError(t, b.EndSession())
	assert.Zero(t, b.Pending())

	samples, err := b.Samples("s5")
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestBacklogDropsOldest(t *testing.T) {
	b := newTestBackend(t, Dependencies{BatchSize: 100, Backlog: 2})
	require.NoError(t, b.StartSession(session("s6")))
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, b.RecordSample(testSample(i)))
	}
	assert.Equal(t, uint64(1), b.Dropped())
	require.NoError(t, b.EndSession())

	samples, err := b.Samples("s6")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, uint64(2), samples[0].Seq)
}
