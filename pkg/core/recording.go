package core

import "time"

// Session describes one flight recording.
type Session struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Source  string    `json:"source"` // bridge kind that produced the samples
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended,omitzero"`
}

// Sample is one recorded exchange: the inputs sent and the state that came
// back.
type Sample struct {
	Seq    uint64         `json:"seq"`
	Time   time.Time      `json:"time"`
	Inputs ControlInputs  `json:"inputs"`
	State  SimulatorState `json:"state"`
}
