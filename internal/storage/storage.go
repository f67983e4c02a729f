// Package storage defines where flight recordings go.
package storage

import "github.com/rflink/bridge/pkg/core"

// Backend is the interface all storage implementations must satisfy.
// A recorder drives it from a single goroutine.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	RecordSample(s *core.Sample) error
}

// Exporter is an optional interface for backends that write a file when a
// session ends.
type Exporter interface {
	ExportedFilePath() string
}
