// Package storage provides configuration for the archive storage backends.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted in storage.backend.
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
)

// Config selects and configures the one storage backend of a running instance.
type Config struct {
	// Backend is "filesystem" or "s3".
	Backend string `yaml:"backend"`
	// Filesystem configures the local directory backend.
	Filesystem FilesystemConfig `yaml:"filesystem"`
	// S3 configures the S3-compatible object store backend.
	S3 S3Config `yaml:"s3"`
}

// FilesystemConfig configures the local directory backend.
type FilesystemConfig struct {
	// Directory receives finished archives; created recursively when missing.
	Directory string `yaml:"directory"`
}

// S3Config configures an S3-compatible object store such as MinIO.
type S3Config struct {
	// Endpoint is the object store address (e.g., "minio:9000").
	Endpoint string `yaml:"endpoint"`
	// Region is sent with requests; empty lets the client discover it.
	Region string `yaml:"region"`
	// AccessKey for static V4 credentials
	AccessKey string `yaml:"access_key"`
	// SecretKey for static V4 credentials
	SecretKey string `yaml:"secret_key"`
	// UseSSL enables HTTPS
	UseSSL bool `yaml:"use_ssl"`
	// Bucket receives finished archives.
	Bucket string `yaml:"bucket"`
	// Folder is the key prefix archives are stored under.
	Folder string `yaml:"folder"`
	// RequestTimeout bounds a single bucket check or upload.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

const (
	defaultDirectory      = "data/warc"
	defaultEndpoint       = "localhost:9000"
	defaultBucket         = "warc-archives"
	defaultFolder         = "crawl"
	defaultRequestTimeout = 30 * time.Minute
)

// NewConfig returns a storage configuration with default values.
func NewConfig() *Config {
	return &Config{
		Backend: BackendFilesystem,
		Filesystem: FilesystemConfig{
			Directory: defaultDirectory,
		},
		S3: S3Config{
			Endpoint:       defaultEndpoint,
			Bucket:         defaultBucket,
			Folder:         defaultFolder,
			RequestTimeout: defaultRequestTimeout,
		},
	}
}

// LoadFromViper loads storage configuration from Viper with environment variable overrides.
func LoadFromViper(v *viper.Viper) *Config {
	cfg := NewConfig()

	setString(v, &cfg.Backend, "storage.backend", "ARCHIVER_STORAGE_BACKEND")
	setString(v, &cfg.Filesystem.Directory, "storage.filesystem.directory", "ARCHIVER_OUTPUT_DIR")

	setString(v, &cfg.S3.Endpoint, "storage.s3.endpoint", "ARCHIVER_S3_ENDPOINT")
	setString(v, &cfg.S3.Region, "storage.s3.region", "ARCHIVER_S3_REGION")
	setString(v, &cfg.S3.AccessKey, "storage.s3.access_key", "ARCHIVER_S3_ACCESS_KEY")
	setString(v, &cfg.S3.SecretKey, "storage.s3.secret_key", "ARCHIVER_S3_SECRET_KEY")
	setString(v, &cfg.S3.Bucket, "storage.s3.bucket", "ARCHIVER_S3_BUCKET")
	setString(v, &cfg.S3.Folder, "storage.s3.folder", "ARCHIVER_S3_FOLDER")

	for _, key := range []string{"storage.s3.use_ssl", "ARCHIVER_S3_USE_SSL"} {
		if v.IsSet(key) {
			cfg.S3.UseSSL = v.GetBool(key)
		}
	}
	for _, key := range []string{"storage.s3.request_timeout", "ARCHIVER_S3_REQUEST_TIMEOUT"} {
		if v.IsSet(key) {
			cfg.S3.RequestTimeout = v.GetDuration(key)
		}
	}

	return cfg
}

// setString applies the config-file key, then the environment override.
func setString(v *viper.Viper, dst *string, key, envKey string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
	if v.IsSet(envKey) {
		*dst = v.GetString(envKey)
	}
}

// Validate validates the storage configuration for the selected backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFilesystem:
		if c.Filesystem.Directory == "" {
			return errors.New("storage filesystem directory required")
		}
	case BackendS3:
		return c.S3.Validate()
	default:
		return fmt.Errorf("unknown storage backend %q (want %q or %q)", c.Backend, BackendFilesystem, BackendS3)
	}
	return nil
}

// Validate validates the S3 configuration.
func (c *S3Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("s3 endpoint required")
	}
	if c.AccessKey == "" {
		return errors.New("s3 access_key required")
	}
	if c.SecretKey == "" {
		return errors.New("s3 secret_key required")
	}
	if c.Bucket == "" {
		return errors.New("s3 bucket required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("s3 request_timeout must be greater than 0")
	}
	return nil
}
