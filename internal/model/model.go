// Package model holds the gorm tables flight recordings are stored in.
package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels lists every table AutoMigrate creates.
var DatabaseModels = []any{
	&Session{},
	&Sample{},
}

// Session is one recording.
type Session struct {
	gorm.Model
	UUID        string       `json:"uuid" gorm:"size:36;uniqueIndex:idx_session_uuid"`
	Name        string       `json:"name" gorm:"size:200"`
	Source      string       `json:"source" gorm:"size:32"`
	StartTime   time.Time    `json:"startTime" gorm:"index:idx_session_start_time"`
	EndTime     sql.NullTime `json:"endTime" gorm:"default:NULL"`
	SampleCount uint64       `json:"sampleCount" gorm:"default:0"`
}

func (*Session) TableName() string {
	return "sessions"
}

// Sample is one exchange. The columns flight analysis queries most are
// promoted out of the JSON state.
type Sample struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_sample_session_id"`
	Session   Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Seq       uint64    `json:"seq" gorm:"index:idx_sample_seq"`
	Time      time.Time `json:"time"`

	PhysicsTime float64    `json:"physicsTime"`
	Position    geom.Point `json:"position" gorm:"type:geometry"` // projected WGS84, Z is altitude ASL
	AltitudeASL float64    `json:"altitudeAsl"`
	AltitudeAGL float64    `json:"altitudeAgl"`
	Airspeed    float64    `json:"airspeed"`
	Groundspeed float64    `json:"groundspeed"`
	Azimuth     float64    `json:"azimuth"`
	Inclination float64    `json:"inclination"`
	Roll        float64    `json:"roll"`

	IsTouchingGround bool   `json:"isTouchingGround" gorm:"default:false"`
	IsLocked         bool   `json:"isLocked" gorm:"default:false"`
	Status           string `json:"status" gorm:"size:64"`

	Channels datatypes.JSON `json:"channels"` // the 12 inputs sent
	State    datatypes.JSON `json:"state"`    // full simulator state
}

func (*Sample) TableName() string {
	return "samples"
}
