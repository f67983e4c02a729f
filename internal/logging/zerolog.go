package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// NewZerolog returns the logger the database and InfluxDB managers use.
// It writes JSON to out at the given level.
func NewZerolog(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", ServiceName).Logger()
}
