// Package core holds the data model shared by every bridge variant: the
// control inputs sent each cycle, the simulator state returned by an
// exchange, statistics snapshots and the classified error kinds.
package core

import (
	"fmt"
	"math"
)

// ChannelCount is the number of RC channels carried by every exchange.
const ChannelCount = 12

// Channel values are unipolar: 0 is full deflection one way, 1 the other,
// 0.5 neutral for centred controls.
const (
	ChannelMin = 0.0
	ChannelMax = 1.0
)

// Standard RC channel mapping.
const (
	ChannelAileron = iota
	ChannelElevator
	ChannelThrottle
	ChannelRudder
	ChannelFlightMode
	ChannelCollective
)

// ControlInputs is one control cycle of RC channel values.
type ControlInputs struct {
	Channels [ChannelCount]float64 `json:"channels"`
}

// NeutralInputs returns inputs with the stick axes centred and the throttle
// closed.
func NeutralInputs() ControlInputs {
	var in ControlInputs
	in.Channels[ChannelAileron] = 0.5
	in.Channels[ChannelElevator] = 0.5
	in.Channels[ChannelRudder] = 0.5
	return in
}

// Validate rejects NaN and values outside [ChannelMin, ChannelMax]. Values
// are never clamped.
func (c *ControlInputs) Validate() error {
	for i, v := range c.Channels {
		if math.IsNaN(v) || v < ChannelMin || v > ChannelMax {
			return &Error{
				Op:    "validate",
				Kind:  ErrInvalidInput,
				Field: fmt.Sprintf("channel[%d]", i),
				Err:   fmt.Errorf("value %v outside [%v, %v]", v, ChannelMin, ChannelMax),
			}
		}
	}
	return nil
}
