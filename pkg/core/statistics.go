package core

import "time"

// Statistics is a point-in-time read of a bridge's counters.
type Statistics struct {
	StartedAt    time.Time     `json:"startedAt"`
	Runtime      time.Duration `json:"runtime"`
	RequestCount uint64        `json:"requestCount"`
	ErrorCount   uint64        `json:"errorCount"`
	// Frequency is RequestCount / Runtime in hertz.
	Frequency   float64       `json:"frequency"`
	MeanLatency time.Duration `json:"meanLatency"`
}

// SuccessCount is the number of requests that did not fail.
func (s Statistics) SuccessCount() uint64 {
	if s.ErrorCount > s.RequestCount {
		return 0
	}
	return s.RequestCount - s.ErrorCount
}
