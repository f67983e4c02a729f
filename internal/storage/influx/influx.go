// Package influx records flights as InfluxDB points: one flight_sample
// point per exchange and a flight_session point at each session boundary.
package influx

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/geo"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rs/zerolog"
)

// Measurement names.
const (
	MeasurementSample  = "flight_sample"
	MeasurementSession = "flight_session"
)

// connectTimeout bounds the initial ping.
const connectTimeout = 5 * time.Second

// ErrNoSession is returned when samples arrive outside a session.
var ErrNoSession = errors.New("no session started")

// Backend writes samples through a Manager.
type Backend struct {
	manager   *Manager
	projector *geo.Projector
	logger    *slog.Logger
	session   *core.Session
}

// New creates the backend. Init connects.
func New(cfg config.Influx, projector *geo.Projector, logger *slog.Logger, zlog zerolog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		manager:   NewManager(zlog, cfg),
		projector: projector,
		logger:    logger.With("component", "influx-storage"),
	}
}

// Init connects to InfluxDB or opens the backup file.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := b.manager.Connect(ctx); err != nil {
		return err
	}
	if !b.manager.IsValid {
		b.logger.Warn("Recording to InfluxDB backup file", "path", b.manager.cfg.BackupPath)
	}
	return nil
}

// Close flushes and disconnects.
func (b *Backend) Close() error {
	return b.manager.Close()
}

// StartSession writes a session start marker.
func (b *Backend) StartSession(s *core.Session) error {
	b.session = s
	return b.manager.WritePoint(b.sessionPoint("start", s.Started))
}

// EndSession writes a session end marker and flushes.
func (b *Backend) EndSession() error {
	if b.session == nil {
		return nil
	}
	end := b.session.Ended
	if end.IsZero() {
		end = time.Now()
	}
	err := b.manager.WritePoint(b.sessionPoint("end", end))
	b.session = nil
	if err != nil {
		return err
	}
	return b.manager.Flush()
}

// RecordSample writes one point per sample.
func (b *Backend) RecordSample(s *core.Sample) error {
	if b.session == nil {
		return ErrNoSession
	}
	return b.manager.WritePoint(b.samplePoint(s))
}

// ExportedFilePath returns the backup file when InfluxDB was unreachable.
func (b *Backend) ExportedFilePath() string {
	if b.manager.IsValid {
		return ""
	}
	return b.manager.cfg.BackupPath
}

func (b *Backend) sessionPoint(event string, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(
		MeasurementSession,
		map[string]string{
			"session": b.session.ID,
			"source":  b.session.Source,
		},
		map[string]any{
			"event": event,
			"name":  b.session.Name,
		},
		at,
	)
}

func (b *Backend) samplePoint(s *core.Sample) *influxdb2_write.Point {
	st := &s.State
	point := influxdb2_write.NewPointWithMeasurement(MeasurementSample).
		AddTag("session", b.session.ID).
		AddTag("source", b.session.Source).
		AddField("seq", s.Seq).
		AddField("physics_time", st.CurrentPhysicsTime).
		AddField("airspeed", st.Airspeed).
		AddField("groundspeed", st.Groundspeed).
		AddField("altitude_asl", st.AltitudeASL).
		AddField("altitude_agl", st.AltitudeAGL).
		AddField("azimuth", st.Azimuth).
		AddField("inclination", st.Inclination).
		AddField("roll", st.Roll).
		AddField("position_x", st.AircraftPositionX).
		AddField("position_y", st.AircraftPositionY).
		AddField("battery_voltage", st.BatteryVoltage).
		AddField("fuel_remaining", st.FuelRemaining).
		AddField("touching_ground", st.IsTouchingGround).
		AddField("locked", st.IsLocked).
		SetTime(s.Time)
	if st.CurrentAircraftStatus != "" {
		point.AddTag("status", st.CurrentAircraftStatus)
	}
	for i, v := range s.Inputs.Channels {
		point.AddField(channelFields[i], v)
	}
	if b.projector != nil {
		pos := b.projector.State(st)
		point.AddField("longitude", pos.Longitude).AddField("latitude", pos.Latitude)
	}
	return point
}

var channelFields = func() [core.ChannelCount]string {
	var names [core.ChannelCount]string
	for i := range names {
		names[i] = "channel_" + strconv.Itoa(i)
	}
	return names
}()

