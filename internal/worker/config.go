// Package worker provides a bounded pool for CPU-bound jobs such as record encoding.
package worker

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Pool size bounds and the default drain timeout.
const (
	DefaultDrainTimeout = 30 * time.Second
	MinPoolSize         = 1
	MaxPoolSize         = 256
)

// Config sizes the encode pool.
type Config struct {
	// PoolSize is the number of jobs that may run at once.
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`

	// DrainTimeout is the maximum time Stop waits for running jobs.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// DefaultConfig returns a Config sized to the machine.
func DefaultConfig() Config {
	return Config{
		PoolSize:     runtime.NumCPU(),
		DrainTimeout: DefaultDrainTimeout,
	}
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// Validate reports the first out-of-range field.
func (c *Config) Validate() error {
	switch {
	case c.PoolSize < MinPoolSize || c.PoolSize > MaxPoolSize:
		return fmt.Errorf("pool_size %d outside [%d, %d]", c.PoolSize, MinPoolSize, MaxPoolSize)
	case c.DrainTimeout <= 0:
		return errors.New("drain_timeout must be positive")
	}
	return nil
}
