package archive

import (
	"time"

	archivecfg "github.com/jonesrussell/north-cloud/warc-archiver/internal/config/archive"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/metrics"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/storage"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/warc"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/worker"
)

type options struct {
	threshold     uint64
	maxPending    int
	pool          *worker.Pool
	metrics       *metrics.Metrics
	logger        logger.Logger
	now           func() time.Time
	name          func(time.Time) string
	writerOptions []warc.WriterOption
}

func defaultOptions() options {
	return options{
		threshold:  archivecfg.DefaultRotationThreshold,
		maxPending: archivecfg.DefaultMaxPendingCommits,
		logger:     logger.NewNop(),
		now:        time.Now,
		name:       storage.ArchiveName,
	}
}

// Option configures an archive actor.
type Option func(*options)

// WithConfig applies the rotation threshold, commit bound and compression level from cfg.
func WithConfig(cfg *archivecfg.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		if cfg.RotationThreshold > 0 {
			o.threshold = cfg.RotationThreshold
		}
		if cfg.MaxPendingCommits > 0 {
			o.maxPending = cfg.MaxPendingCommits
		}
		if cfg.CompressionLevel != 0 {
			o.writerOptions = append(o.writerOptions, warc.WithCompressionLevel(cfg.CompressionLevel))
		}
	}
}

// WithRotationThreshold rotates once the open archive's uncompressed size exceeds n bytes.
func WithRotationThreshold(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.threshold = n
		}
	}
}

// WithMaxPendingCommits caps rotated archives committing at once. Once n are
// in flight the next rotation blocks the actor, and with it every producer.
func WithMaxPendingCommits(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPending = n
		}
	}
}

// WithPool runs encoding on pool. The pool must be started and is not
// stopped by the actor. Without it the actor owns a single-slot pool.
func WithPool(pool *worker.Pool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithClock replaces time.Now when naming archives.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithNameFunc replaces the archive naming function.
func WithNameFunc(fn func(time.Time) string) Option {
	return func(o *options) {
		o.name = fn
	}
}

// WithWriterOptions passes options to every archive encoder.
func WithWriterOptions(opts ...warc.WriterOption) Option {
	return func(o *options) {
		o.writerOptions = append(o.writerOptions, opts...)
	}
}
