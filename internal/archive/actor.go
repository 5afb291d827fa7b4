package archive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/domain"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/warc"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/worker"
)

// Committer stores a finished archive under name.
type Committer interface {
	Commit(ctx context.Context, data []byte, name string) error
	Describe() string
}

type message struct {
	datum  domain.CrawlDatum
	finish bool
}

// actor owns the open encoder. Only run touches writer; rotated encoders are
// handed to their own goroutine and never used by the actor again.
type actor struct {
	opts      options
	committer Committer
	pool      *worker.Pool
	ownsPool  bool
	log       logger.Logger

	msgs chan message
	done chan struct{}

	writer  *warc.DeduplicatedWriter
	commits sync.WaitGroup
	// slots holds one token per rotated archive still committing.
	slots chan struct{}

	state             atomic.Int32
	recordsWritten    atomic.Int64
	revisits          atomic.Int64
	encodeFailures    atomic.Int64
	dropped           atomic.Int64
	rotations         atomic.Int64
	archivesCommitted atomic.Int64
	commitFailures    atomic.Int64
	openBytes         atomic.Int64
}

func (a *actor) run() {
	defer close(a.done)

	a.log.Info("Archive actor started",
		logger.Uint64("rotation_threshold", a.opts.threshold),
		logger.Int("max_pending_commits", cap(a.slots)),
		logger.Destination(a.committer.Describe()),
	)

	for {
		msg := <-a.msgs
		if msg.finish {
			a.drain()
			return
		}
		a.write(msg.datum)
	}
}

func (a *actor) write(datum domain.CrawlDatum) {
	rec := warc.FromDatum(datum)

	var outcome warc.Outcome
	err := a.pool.Run(context.Background(), func() error {
		var werr error
		outcome, werr = a.writer.Write(rec)
		return werr
	})
	a.opts.metrics.SetWorkerPoolMetrics(a.pool.Size(), a.pool.Stats().BusyWorkers)

	if errors.Is(err, worker.ErrPoolNotRunning) {
		a.dropped.Add(1)
		a.log.Error("Encode pool is not running, dropping record",
			logger.URL(urlString(datum)),
			logger.Error(err),
		)
		return
	}
	if err != nil {
		a.encodeFailures.Add(1)
		a.opts.metrics.RecordEncodeFailure()
		a.log.Warn("Failed to encode record, dropping it",
			logger.URL(urlString(datum)),
			logger.Error(err),
		)
		return
	}

	a.recordsWritten.Add(1)
	if outcome.Kind == warc.KindRevisit {
		a.revisits.Add(1)
	}
	size := a.writer.NumBytes()
	a.openBytes.Store(size)
	a.opts.metrics.RecordWrite(outcome.Kind.String(), size)

	if uint64(size) > a.opts.threshold {
		a.rotate()
	}
}

// rotate swaps in a fresh encoder and commits the full one in the background.
// With every commit slot taken it blocks until one frees, so at most
// maxPending full archives wait on storage.
func (a *actor) rotate() {
	a.state.Store(int32(StateRotating))

	select {
	case a.slots <- struct{}{}:
	default:
		a.log.Warn("Commit slots exhausted, waiting before rotating",
			logger.Int("max_pending_commits", cap(a.slots)),
		)
		a.slots <- struct{}{}
	}

	full := a.writer
	name := a.opts.name(a.opts.now())
	a.writer = a.newWriter()
	a.openBytes.Store(0)
	a.rotations.Add(1)
	a.opts.metrics.RecordRotation()

	a.log.Info("Rotating archive",
		logger.Archive(name),
		logger.Int("records", full.NumWrites()),
		logger.Int("unique", full.NumUnique()),
		logger.Int64("uncompressed_bytes", full.NumBytes()),
	)

	a.commits.Add(1)
	go func() {
		defer a.commits.Done()
		defer func() { <-a.slots }()
		a.commit(full, name)
	}()

	a.state.Store(int32(StateAccumulating))
}

// drain commits the open encoder if it holds anything, then waits for
// rotated archives still being committed.
func (a *actor) drain() {
	a.state.Store(int32(StateDraining))

	if a.writer.NumWrites() > 0 {
		a.commit(a.writer, a.opts.name(a.opts.now()))
	} else {
		a.log.Debug("No records in open archive, nothing to commit")
	}
	a.writer = nil
	a.openBytes.Store(0)

	a.commits.Wait()

	if a.ownsPool {
		if err := a.pool.Stop(context.Background()); err != nil {
			a.log.Warn("Failed to stop encode pool", logger.Error(err))
		}
	}

	a.state.Store(int32(StateTerminated))
	a.log.Info("Archive actor terminated",
		logger.Int64("records_written", a.recordsWritten.Load()),
		logger.Int64("archives_committed", a.archivesCommitted.Load()),
		logger.Int64("commit_failures", a.commitFailures.Load()),
	)
}

// commit finishes w and stores it as name. Failures are logged and the bytes dropped.
func (a *actor) commit(w *warc.DeduplicatedWriter, name string) {
	records := w.NumWrites()
	data, err := w.Finish()
	if err != nil {
		a.commitFailures.Add(1)
		a.log.Error("Failed to finish archive", logger.Error(err))
		return
	}

	start := time.Now()
	err = a.committer.Commit(context.Background(), data, name)
	a.opts.metrics.RecordCommit(err == nil, len(data), time.Since(start).Seconds())

	if err != nil {
		a.commitFailures.Add(1)
		a.log.Error("Failed to commit archive, discarding it",
			logger.Archive(name),
			logger.Int("records", records),
			logger.Int("size", len(data)),
			logger.Error(err),
		)
		return
	}
	a.archivesCommitted.Add(1)
}

func (a *actor) newWriter() *warc.DeduplicatedWriter {
	return warc.NewDeduplicatedWriter(a.opts.writerOptions...)
}

func (a *actor) stats() Stats {
	return Stats{
		State:             State(a.state.Load()),
		RecordsWritten:    a.recordsWritten.Load(),
		Revisits:          a.revisits.Load(),
		EncodeFailures:    a.encodeFailures.Load(),
		Dropped:           a.dropped.Load(),
		Rotations:         a.rotations.Load(),
		ArchivesCommitted: a.archivesCommitted.Load(),
		CommitFailures:    a.commitFailures.Load(),
		OpenArchiveBytes:  a.openBytes.Load(),
	}
}

func urlString(d domain.CrawlDatum) string {
	if d.URL == nil {
		return ""
	}
	return d.URL.String()
}
