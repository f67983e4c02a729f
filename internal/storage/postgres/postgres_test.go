package postgres

import (
	"testing"

	"github.com/rflink/bridge/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_UnreachableDatabase(t *testing.T) {
	cfg := config.Recording{
		DB: config.Database{
			Host:     "127.0.0.1",
			Port:     "1",
			Username: "postgres",
			Password: "postgres",
			Database: "rflink",
		},
	}
	b, err := New(cfg, nil, nil, zerolog.Nop())
	assert.Nil(t, b)
	assert.ErrorContains(t, err, "failed to connect to postgres")
}
