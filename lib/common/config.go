package common

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine names accepted by Config.Engine.
const (
	EngineMaple  = "maple"
	EngineBadger = "badger"
)

// Config holds all settings of a Host and the databases it opens.
type Config struct {
	// DataDir contains the catalog and the storage of every database.
	// An empty DataDir keeps everything in memory and nothing survives Close.
	DataDir string

	// Engine is the table engine new databases are created with (maple, badger).
	// Existing databases always use the engine they were created with.
	Engine string

	// Codec is the stored record codec new databases are created with (json, gob, binary).
	Codec string

	// AutosaveDelay is how long dirty records are collected before they are written in one batch.
	AutosaveDelay time.Duration
	// SweepDelay is how long deletion marks are collected before the reachability sweep runs.
	SweepDelay time.Duration
	// MaxDirty forces a synchronous flush once that many records are dirty. Zero disables the limit.
	MaxDirty int

	// SyncWrites makes the badger engine fsync every batch.
	SyncWrites bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// DefaultConfig returns an in-memory configuration with the default delays.
func DefaultConfig() Config {
	return Config{
		Engine:        EngineMaple,
		Codec:         "binary",
		AutosaveDelay: time.Millisecond,
		SweepDelay:    100 * time.Millisecond,
		MaxDirty:      10_000,
		LogLevel:      "info",
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	switch c.Engine {
	case EngineMaple, EngineBadger:
	default:
		errs = append(errs, fmt.Errorf("invalid engine %q (must be %s or %s)", c.Engine, EngineMaple, EngineBadger))
	}
	switch c.Codec {
	case "", "json", "gob", "binary":
	default:
		errs = append(errs, fmt.Errorf("invalid codec %q (must be json, gob or binary)", c.Codec))
	}
	if c.AutosaveDelay < 0 {
		errs = append(errs, errors.New("autosave delay must not be negative"))
	}
	if c.SweepDelay < 0 {
		errs = append(errs, errors.New("sweep delay must not be negative"))
	}
	if c.MaxDirty < 0 {
		errs = append(errs, errors.New("max dirty must not be negative"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InMemory reports whether the configuration keeps no files.
func (c *Config) InMemory() bool {
	return c.DataDir == ""
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	if c.InMemory() {
		addField("Data Directory", "(in memory)")
	} else {
		addField("Data Directory", c.DataDir)
	}
	addField("Engine", c.Engine)
	addField("Codec", c.Codec)
	if c.Engine == EngineBadger {
		addField("Sync Writes", fmt.Sprintf("%t", c.SyncWrites))
	}

	addSection("Scheduling")
	addField("Autosave Delay", c.AutosaveDelay.String())
	addField("Sweep Delay", c.SweepDelay.String())
	addField("Max Dirty", fmt.Sprintf("%d", c.MaxDirty))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
