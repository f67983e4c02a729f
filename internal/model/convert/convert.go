// Package convert maps recordings between core types and gorm models.
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rflink/bridge/internal/geo"
	"github.com/rflink/bridge/internal/model"
	"github.com/rflink/bridge/pkg/core"
	"gorm.io/datatypes"
)

// CoreToSession converts a core.Session to a gorm model. core.Session.ID
// maps to the model's UUID; the numeric primary key is assigned on insert.
func CoreToSession(s core.Session) model.Session {
	m := model.Session{
		UUID:      s.ID,
		Name:      s.Name,
		Source:    s.Source,
		StartTime: s.Started,
	}
	if !s.Ended.IsZero() {
		m.EndTime = sql.NullTime{Time: s.Ended, Valid: true}
	}
	return m
}

// SessionToCore converts a gorm Session back.
func SessionToCore(m model.Session) core.Session {
	s := core.Session{
		ID:      m.UUID,
		Name:    m.Name,
		Source:  m.Source,
		Started: m.StartTime,
	}
	if m.EndTime.Valid {
		s.Ended = m.EndTime.Time
	}
	return s
}

// CoreToSample converts a core.Sample for sessionID. With a projector the
// aircraft position is stored as a WGS84 point; without one the position
// column is left empty.
func CoreToSample(s core.Sample, sessionID uint, proj *geo.Projector) (model.Sample, error) {
	channels, err := json.Marshal(s.Inputs.Channels)
	if err != nil {
		return model.Sample{}, fmt.Errorf("encoding channels: %w", err)
	}
	state, err := json.Marshal(s.State)
	if err != nil {
		return model.Sample{}, fmt.Errorf("encoding state: %w", err)
	}
	m := model.Sample{
		SessionID:        sessionID,
		Seq:              s.Seq,
		Time:             s.Time,
		PhysicsTime:      s.State.CurrentPhysicsTime,
		AltitudeASL:      s.State.AltitudeASL,
		AltitudeAGL:      s.State.AltitudeAGL,
		Airspeed:         s.State.Airspeed,
		Groundspeed:      s.State.Groundspeed,
		Azimuth:          s.State.Azimuth,
		Inclination:      s.State.Inclination,
		Roll:             s.State.Roll,
		IsTouchingGround: s.State.IsTouchingGround,
		IsLocked:         s.State.IsLocked,
		Status:           s.State.CurrentAircraftStatus,
		Channels:         datatypes.JSON(channels),
		State:            datatypes.JSON(state),
	}
	if proj != nil {
		m.Position = geo.Point(proj.State(&s.State))
	}
	return m, nil
}

// SampleToCore converts a gorm Sample back. The full state comes from the
// JSON column; the promoted columns are not consulted.
func SampleToCore(m model.Sample) (core.Sample, error) {
	s := core.Sample{Seq: m.Seq, Time: m.Time}
	if len(m.Channels) > 0 {
		if err := json.Unmarshal(m.Channels, &s.Inputs.Channels); err != nil {
			return core.Sample{}, fmt.Errorf("decoding channels of sample %d: %w", m.Seq, err)
		}
	}
	if len(m.State) > 0 {
		if err := json.Unmarshal(m.State, &s.State); err != nil {
			return core.Sample{}, fmt.Errorf("decoding state of sample %d: %w", m.Seq, err)
		}
	}
	return s, nil
}
