// Package archive provides configuration for the archive actor.
package archive

import (
	"errors"

	"github.com/spf13/viper"
)

// DefaultRotationThreshold is the uncompressed size after which an archive is rotated.
const DefaultRotationThreshold uint64 = 1_000_000_000

// DefaultMaxPendingCommits is how many rotated archives may be committing at once.
const DefaultMaxPendingCommits = 1

// Config holds archive actor configuration.
type Config struct {
	// RotationThreshold rotates the open archive once its uncompressed size exceeds it.
	RotationThreshold uint64 `mapstructure:"rotation_threshold" yaml:"rotation_threshold"`
	// CompressionLevel is the gzip level for record members; 0 uses the default.
	CompressionLevel int `mapstructure:"compression_level" yaml:"compression_level"`
	// MaxPendingCommits caps rotated archives held in memory while they commit.
	// A further rotation waits for a slot; 0 uses the default.
	MaxPendingCommits int `mapstructure:"max_pending_commits" yaml:"max_pending_commits"`
}

// NewConfig returns an archive configuration with default values.
func NewConfig() *Config {
	return &Config{
		RotationThreshold: DefaultRotationThreshold,
		MaxPendingCommits: DefaultMaxPendingCommits,
	}
}

// LoadFromViper loads archive configuration from Viper.
func LoadFromViper(v *viper.Viper) *Config {
	cfg := NewConfig()

	if v.IsSet("archive.rotation_threshold") {
		cfg.RotationThreshold = v.GetUint64("archive.rotation_threshold")
	}
	if v.IsSet("ARCHIVER_ROTATION_THRESHOLD") {
		cfg.RotationThreshold = v.GetUint64("ARCHIVER_ROTATION_THRESHOLD")
	}
	if v.IsSet("archive.compression_level") {
		cfg.CompressionLevel = v.GetInt("archive.compression_level")
	}
	if v.IsSet("archive.max_pending_commits") {
		cfg.MaxPendingCommits = v.GetInt("archive.max_pending_commits")
	}

	return cfg
}

// Validate validates the archive configuration.
func (c *Config) Validate() error {
	if c.RotationThreshold == 0 {
		return errors.New("archive rotation_threshold must be greater than 0")
	}
	if c.CompressionLevel < -2 || c.CompressionLevel > 9 {
		return errors.New("archive compression_level must be between -2 and 9")
	}
	if c.MaxPendingCommits < 0 {
		return errors.New("archive max_pending_commits must not be negative")
	}
	return nil
}
