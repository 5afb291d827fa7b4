// Package storage commits finished archives to their destination.
//
// A running instance has exactly one Backend, chosen by configuration: a
// local directory or an S3-compatible bucket. The Committer wraps the
// backend with naming, error classification and logging.
package storage

//go:generate mockgen -destination=../../testutils/mocks/storage/mock_backend.go -package=storage github.com/jonesrussell/north-cloud/warc-archiver/internal/storage Backend

import (
	"context"
	"errors"
	"fmt"

	storagecfg "github.com/jonesrussell/north-cloud/warc-archiver/internal/config/storage"
	"github.com/spf13/afero"
)

var (
	// ErrCommitFailed is returned when the archive bytes could not be stored.
	ErrCommitFailed = errors.New("commit failed")
	// ErrDirectoryCreation is returned when the destination could not be prepared.
	ErrDirectoryCreation = errors.New("directory creation failed")
)

// Backend is the storage capability behind a Committer.
type Backend interface {
	// EnsureDestination creates the directory or bucket when it is missing.
	EnsureDestination(ctx context.Context) error
	// Put stores data under name, overwriting nothing that exists under another name.
	Put(ctx context.Context, name string, data []byte) error
	// Describe returns a human readable destination for logs.
	Describe() string
}

// NewBackend builds the backend selected by cfg.
func NewBackend(cfg *storagecfg.Config) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("storage config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	switch cfg.Backend {
	case storagecfg.BackendS3:
		return NewS3Backend(&cfg.S3)
	default:
		return NewFilesystemBackend(afero.NewOsFs(), cfg.Filesystem.Directory), nil
	}
}
