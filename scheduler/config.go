package scheduler

import (
	"fmt"
	"time"
)

// Mode selects how ready work is dispatched.
type Mode string

const (
	ModePool        Mode = "pool"
	ModePerStage    Mode = "per_stage"
	ModeCooperative Mode = "cooperative"
)

// Config tunes dispatch and admission.
type Config struct {
	// Mode is the dispatch mode. Defaults to ModePool.
	Mode Mode `mapstructure:"mode" yaml:"mode" validate:"omitempty,oneof=pool per_stage cooperative"`
	// Workers is the pool size in ModePool.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
	// MaxInFlight bounds unresolved items. 0 means unbounded.
	MaxInFlight int `mapstructure:"max_in_flight" yaml:"max_in_flight" validate:"gte=0"`
	// AdmitWait is how long a push waits for a free slot when MaxInFlight
	// is reached. 0 fails immediately with PIPELINE_BUSY.
	AdmitWait time.Duration `mapstructure:"admit_wait" yaml:"admit_wait"`
}

// DefaultConfig returns a four-worker pool without an in-flight limit.
func DefaultConfig() Config {
	return Config{
		Mode:    ModePool,
		Workers: 4,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModePool
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePool, ModePerStage, ModeCooperative:
	default:
		return fmt.Errorf("scheduler: unknown mode %q", c.Mode)
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("scheduler: max_in_flight must be >= 0")
	}
	if c.AdmitWait < 0 {
		return fmt.Errorf("scheduler: admit_wait must be >= 0")
	}
	return nil
}
