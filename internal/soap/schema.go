// Package soap speaks the simulator's RealFlight Link protocol: SOAP 1.1
// envelopes carried over one-shot HTTP/1.1 requests.
//
// Requests are built into caller-owned buffers so the exchange hot path can
// run without per-call allocation. Responses are decoded by tag name against
// a Schema, so field order on the wire does not matter.
package soap

import (
	"fmt"

	"github.com/rflink/bridge/pkg/core"
)

// FieldKind is the wire type of a state field.
type FieldKind uint8

const (
	Number FieldKind = iota
	Flag
	Text
)

// Response containers.
const (
	GroupAircraftState = "m-aircraftState"
	GroupNotifications = "m-notifications"
)

// Field binds one wire element to a SimulatorState field. Exactly one of
// Number, Flag or Text is set, matching Kind.
type Field struct {
	Tag    string
	Kind   FieldKind
	Group  string
	Number func(*core.SimulatorState) *float64
	Flag   func(*core.SimulatorState) *bool
	Text   func(*core.SimulatorState) *string
}

// Schema is the field table used to decode a state response.
type Schema struct {
	fields        []Field
	index         map[string]int
	channelsTag   string
	channelsClose []byte
}

// NewSchema validates a field table. channelsTag names the element holding
// the echoed previous control inputs.
func NewSchema(fields []Field, channelsTag string) (*Schema, error) {
	s := &Schema{
		fields:        fields,
		index:         make(map[string]int, len(fields)),
		channelsTag:   channelsTag,
		channelsClose: []byte("</" + channelsTag + ">"),
	}
	for i, f := range fields {
		if f.Tag == "" {
			return nil, fmt.Errorf("field %d has no tag", i)
		}
		if _, dup := s.index[f.Tag]; dup {
			return nil, fmt.Errorf("duplicate field tag %q", f.Tag)
		}
		var bound bool
		switch f.Kind {
		case Number:
			bound = f.Number != nil
		case Flag:
			bound = f.Flag != nil
		case Text:
			bound = f.Text != nil
		}
		if !bound {
			return nil, fmt.Errorf("field %q has no accessor for its kind", f.Tag)
		}
		if f.Tag == channelsTag {
			return nil, fmt.Errorf("field %q collides with the channels element", f.Tag)
		}
		s.index[f.Tag] = i
	}
	return s, nil
}

// MustSchema is NewSchema that panics on an invalid table.
func MustSchema(fields []Field, channelsTag string) *Schema {
	s, err := NewSchema(fields, channelsTag)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the field table.
func (s *Schema) Fields() []Field { return s.fields }

// ChannelsTag returns the element name of the echoed control inputs.
func (s *Schema) ChannelsTag() string { return s.channelsTag }

func num(tag string, get func(*core.SimulatorState) *float64) Field {
	return Field{Tag: tag, Kind: Number, Group: GroupAircraftState, Number: get}
}

func flag(tag, group string, get func(*core.SimulatorState) *bool) Field {
	return Field{Tag: tag, Kind: Flag, Group: group, Flag: get}
}

// DefaultSchema is the RealFlight Link aircraft state table.
var DefaultSchema = MustSchema([]Field{
	num("m-currentPhysicsTime-SEC", func(s *core.SimulatorState) *float64 { return &s.CurrentPhysicsTime }),
	num("m-currentPhysicsSpeedMultiplier", func(s *core.SimulatorState) *float64 { return &s.CurrentPhysicsSpeedMultiplier }),
	num("m-airspeed-MPS", func(s *core.SimulatorState) *float64 { return &s.Airspeed }),
	num("m-altitudeASL-MTR", func(s *core.SimulatorState) *float64 { return &s.AltitudeASL }),
	num("m-altitudeAGL-MTR", func(s *core.SimulatorState) *float64 { return &s.AltitudeAGL }),
	num("m-groundspeed-MPS", func(s *core.SimulatorState) *float64 { return &s.Groundspeed }),
	num("m-pitchRate-DEGpSEC", func(s *core.SimulatorState) *float64 { return &s.PitchRate }),
	num("m-rollRate-DEGpSEC", func(s *core.SimulatorState) *float64 { return &s.RollRate }),
	num("m-yawRate-DEGpSEC", func(s *core.SimulatorState) *float64 { return &s.YawRate }),
	num("m-azimuth-DEG", func(s *core.SimulatorState) *float64 { return &s.Azimuth }),
	num("m-inclination-DEG", func(s *core.SimulatorState) *float64 { return &s.Inclination }),
	num("m-roll-DEG", func(s *core.SimulatorState) *float64 { return &s.Roll }),
	num("m-orientationQuaternion-X", func(s *core.SimulatorState) *float64 { return &s.OrientationQuaternionX }),
	num("m-orientationQuaternion-Y", func(s *core.SimulatorState) *float64 { return &s.OrientationQuaternionY }),
	num("m-orientationQuaternion-Z", func(s *core.SimulatorState) *float64 { return &s.OrientationQuaternionZ }),
	num("m-orientationQuaternion-W", func(s *core.SimulatorState) *float64 { return &s.OrientationQuaternionW }),
	num("m-aircraftPositionX-MTR", func(s *core.SimulatorState) *float64 { return &s.AircraftPositionX }),
	num("m-aircraftPositionY-MTR", func(s *core.SimulatorState) *float64 { return &s.AircraftPositionY }),
	num("m-velocityWorldU-MPS", func(s *core.SimulatorState) *float64 { return &s.VelocityWorldU }),
	num("m-velocityWorldV-MPS", func(s *core.SimulatorState) *float64 { return &s.VelocityWorldV }),
	num("m-velocityWorldW-MPS", func(s *core.SimulatorState) *float64 { return &s.VelocityWorldW }),
	num("m-velocityBodyU-MPS", func(s *core.SimulatorState) *float64 { return &s.VelocityBodyU }),
	num("m-velocityBodyV-MPS", func(s *core.SimulatorState) *float64 { return &s.VelocityBodyV }),
	num("m-velocityBodyW-MPS", func(s *core.SimulatorState) *float64 { return &s.VelocityBodyW }),
	num("m-accelerationWorldAX-MPS2", func(s *core.SimulatorState) *float64 { return &s.AccelerationWorldAX }),
	num("m-accelerationWorldAY-MPS2", func(s *core.SimulatorState) *float64 { return &s.AccelerationWorldAY }),
	num("m-accelerationWorldAZ-MPS2", func(s *core.SimulatorState) *float64 { return &s.AccelerationWorldAZ }),
	num("m-accelerationBodyAX-MPS2", func(s *core.SimulatorState) *float64 { return &s.AccelerationBodyAX }),
	num("m-accelerationBodyAY-MPS2", func(s *core.SimulatorState) *float64 { return &s.AccelerationBodyAY }),
	num("m-accelerationBodyAZ-MPS2", func(s *core.SimulatorState) *float64 { return &s.AccelerationBodyAZ }),
	num("m-windX-MPS", func(s *core.SimulatorState) *float64 { return &s.WindX }),
	num("m-windY-MPS", func(s *core.SimulatorState) *float64 { return &s.WindY }),
	num("m-windZ-MPS", func(s *core.SimulatorState) *float64 { return &s.WindZ }),
	num("m-propRPM", func(s *core.SimulatorState) *float64 { return &s.PropRPM }),
	num("m-heliMainRotorRPM", func(s *core.SimulatorState) *float64 { return &s.HeliMainRotorRPM }),
	num("m-batteryVoltage-VOLTS", func(s *core.SimulatorState) *float64 { return &s.BatteryVoltage }),
	num("m-batteryCurrentDraw-AMPS", func(s *core.SimulatorState) *float64 { return &s.BatteryCurrentDraw }),
	num("m-batteryRemainingCapacity-MAH", func(s *core.SimulatorState) *float64 { return &s.BatteryRemainingCapacity }),
	num("m-fuelRemaining-OZ", func(s *core.SimulatorState) *float64 { return &s.FuelRemaining }),
	flag("m-isLocked", GroupAircraftState, func(s *core.SimulatorState) *bool { return &s.IsLocked }),
	flag("m-hasLostComponents", GroupAircraftState, func(s *core.SimulatorState) *bool { return &s.HasLostComponents }),
	flag("m-anEngineIsRunning", GroupAircraftState, func(s *core.SimulatorState) *bool { return &s.AnEngineIsRunning }),
	flag("m-isTouchingGround", GroupAircraftState, func(s *core.SimulatorState) *bool { return &s.IsTouchingGround }),
	flag("m-flightAxisControllerIsActive", GroupAircraftState, func(s *core.SimulatorState) *bool { return &s.FlightAxisControllerIsActive }),
	{Tag: "m-currentAircraftStatus", Kind: Text, Group: GroupAircraftState, Text: func(s *core.SimulatorState) *string { return &s.CurrentAircraftStatus }},
	flag("m-resetButtonHasBeenPressed", GroupNotifications, func(s *core.SimulatorState) *bool { return &s.ResetButtonHasBeenPressed }),
}, "m-channelValues-0to1")
