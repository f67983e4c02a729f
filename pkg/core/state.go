package core

// SimulatorState is the aircraft state returned by one exchange.
// Units are metric: metres, metres/second, degrees, degrees/second, volts,
// amperes, milliamp-hours; fuel is in ounces as reported by the simulator.
type SimulatorState struct {
	PreviousInputs ControlInputs `json:"previousInputs"`

	CurrentPhysicsTime            float64 `json:"currentPhysicsTime"`
	CurrentPhysicsSpeedMultiplier float64 `json:"currentPhysicsSpeedMultiplier"`

	Airspeed    float64 `json:"airspeed"`
	AltitudeASL float64 `json:"altitudeAsl"`
	AltitudeAGL float64 `json:"altitudeAgl"`
	Groundspeed float64 `json:"groundspeed"`

	PitchRate   float64 `json:"pitchRate"`
	RollRate    float64 `json:"rollRate"`
	YawRate     float64 `json:"yawRate"`
	Azimuth     float64 `json:"azimuth"`
	Inclination float64 `json:"inclination"`
	Roll        float64 `json:"roll"`

	OrientationQuaternionX float64 `json:"orientationQuaternionX"`
	OrientationQuaternionY float64 `json:"orientationQuaternionY"`
	OrientationQuaternionZ float64 `json:"orientationQuaternionZ"`
	OrientationQuaternionW float64 `json:"orientationQuaternionW"`

	AircraftPositionX float64 `json:"aircraftPositionX"`
	AircraftPositionY float64 `json:"aircraftPositionY"`

	VelocityWorldU float64 `json:"velocityWorldU"`
	VelocityWorldV float64 `json:"velocityWorldV"`
	VelocityWorldW float64 `json:"velocityWorldW"`
	VelocityBodyU  float64 `json:"velocityBodyU"`
	VelocityBodyV  float64 `json:"velocityBodyV"`
	VelocityBodyW  float64 `json:"velocityBodyW"`

	AccelerationWorldAX float64 `json:"accelerationWorldAx"`
	AccelerationWorldAY float64 `json:"accelerationWorldAy"`
	AccelerationWorldAZ float64 `json:"accelerationWorldAz"`
	AccelerationBodyAX  float64 `json:"accelerationBodyAx"`
	AccelerationBodyAY  float64 `json:"accelerationBodyAy"`
	AccelerationBodyAZ  float64 `json:"accelerationBodyAz"`

	WindX float64 `json:"windX"`
	WindY float64 `json:"windY"`
	WindZ float64 `json:"windZ"`

	PropRPM          float64 `json:"propRpm"`
	HeliMainRotorRPM float64 `json:"heliMainRotorRpm"`

	BatteryVoltage           float64 `json:"batteryVoltage"`
	BatteryCurrentDraw       float64 `json:"batteryCurrentDraw"`
	BatteryRemainingCapacity float64 `json:"batteryRemainingCapacity"`
	FuelRemaining            float64 `json:"fuelRemaining"`

	IsLocked                     bool   `json:"isLocked"`
	HasLostComponents            bool   `json:"hasLostComponents"`
	AnEngineIsRunning            bool   `json:"anEngineIsRunning"`
	IsTouchingGround             bool   `json:"isTouchingGround"`
	FlightAxisControllerIsActive bool   `json:"flightAxisControllerIsActive"`
	ResetButtonHasBeenPressed    bool   `json:"resetButtonHasBeenPressed"`
	CurrentAircraftStatus        string `json:"currentAircraftStatus"`
}

// Field counts of SimulatorState, excluding PreviousInputs and the status.
const (
	FloatCount = 39
	FlagCount  = 6
)

// Floats returns pointers to every numeric field in a fixed order. Codecs
// iterate it to read or fill a state without reflection; the array stays
// on the caller's stack.
func (s *SimulatorState) Floats() [FloatCount]*float64 {
	return [FloatCount]*float64{
		&s.CurrentPhysicsTime,
		&s.CurrentPhysicsSpeedMultiplier,
		&s.Airspeed,
		&s.AltitudeASL,
		&s.AltitudeAGL,
		&s.Groundspeed,
		&s.PitchRate,
		&s.RollRate,
		&s.YawRate,
		&s.Azimuth,
		&s.Inclination,
		&s.Roll,
		&s.OrientationQuaternionX,
		&s.OrientationQuaternionY,
		&s.OrientationQuaternionZ,
		&s.OrientationQuaternionW,
		&s.AircraftPositionX,
		&s.AircraftPositionY,
		&s.VelocityWorldU,
		&s.VelocityWorldV,
		&s.VelocityWorldW,
		&s.VelocityBodyU,
		&s.VelocityBodyV,
		&s.VelocityBodyW,
		&s.AccelerationWorldAX,
		&s.AccelerationWorldAY,
		&s.AccelerationWorldAZ,
		&s.AccelerationBodyAX,
		&s.AccelerationBodyAY,
		&s.AccelerationBodyAZ,
		&s.WindX,
		&s.WindY,
		&s.WindZ,
		&s.PropRPM,
		&s.HeliMainRotorRPM,
		&s.BatteryVoltage,
		&s.BatteryCurrentDraw,
		&s.BatteryRemainingCapacity,
		&s.FuelRemaining,
	}
}

// Flags returns pointers to every boolean field in a fixed order.
func (s *SimulatorState) Flags() [FlagCount]*bool {
	return [FlagCount]*bool{
		&s.IsLocked,
		&s.HasLostComponents,
		&s.AnEngineIsRunning,
		&s.IsTouchingGround,
		&s.FlightAxisControllerIsActive,
		&s.ResetButtonHasBeenPressed,
	}
}
