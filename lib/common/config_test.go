package common

import (
	"testing"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.InMemory())
	assert.Equal(t, time.Millisecond, cfg.AutosaveDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.SweepDelay)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"engine", func(c *Config) { c.Engine = "sqlite" }},
		{"codec", func(c *Config) { c.Codec = "xml" }},
		{"autosave", func(c *Config) { c.AutosaveDelay = -time.Second }},
		{"sweep", func(c *Config) { c.SweepDelay = -time.Second }},
		{"max dirty", func(c *Config) { c.MaxDirty = -1 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/drec"
	cfg.Engine = EngineBadger

	s := cfg.String()
	assert.Contains(t, s, "STORAGE")
	assert.Contains(t, s, "/var/lib/drec")
	assert.Contains(t, s, "Sync Writes")
	assert.Contains(t, s, "SCHEDULING")
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, logger.WARNING, level)

	level, err = ParseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, logger.INFO, level)

	_, err = ParseLogLevel("verbose")
	assert.Error(t, err)
}
