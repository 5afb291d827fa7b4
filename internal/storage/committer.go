package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
)

// archiveExtension is appended to every committed archive name.
const archiveExtension = ".warc.gz"

// archiveTimeLayout is RFC 3339 with a fixed nine-digit fraction, so names
// sort lexically in time order.
const archiveTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ArchiveName returns a fresh name of the form {RFC3339 UTC}_{uuid}.warc.gz.
// The random suffix keeps names unique across rotations in the same instant
// and across instances.
func ArchiveName(now time.Time) string {
	return now.UTC().Format(archiveTimeLayout) + "_" + uuid.NewString() + archiveExtension
}

// Committer persists finished archives through a Backend. It is safe for
// concurrent use as long as each call uses a distinct name.
type Committer struct {
	backend Backend
	logger  logger.Logger
}

// NewCommitter creates a committer for backend.
func NewCommitter(backend Backend, log logger.Logger) *Committer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Committer{backend: backend, logger: log}
}

// Commit prepares the destination and stores data under name. Failures wrap
// ErrDirectoryCreation or ErrCommitFailed. Nothing is retried.
func (c *Committer) Commit(ctx context.Context, data []byte, name string) error {
	if err := c.backend.EnsureDestination(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, c.backend.Describe(), err)
	}

	start := time.Now()
	if err := c.backend.Put(ctx, name, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommitFailed, name, err)
	}

	c.logger.Info("Committed archive",
		logger.Archive(name),
		logger.Destination(c.backend.Describe()),
		logger.Int("size", len(data)),
		logger.Duration("duration", time.Since(start)),
	)
	return nil
}

// Describe returns the backend destination.
func (c *Committer) Describe() string {
	return c.backend.Describe()
}
