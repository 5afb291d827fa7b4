package common

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/api"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/archive"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/metrics"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/storage"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Pipeline is a running archive actor with its encode pool and, when
// configured, the health and metrics server.
type Pipeline struct {
	Sink *archive.Sink

	logger logger.Logger
	pool   *worker.Pool
	server *api.Server
}

// StartPipeline wires storage, the encode pool and metrics into a new archive actor.
func StartPipeline(deps CommandDeps, backend storage.Backend) (*Pipeline, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config
	log := deps.Logger

	if backend == nil {
		var err error
		backend, err = storage.NewBackend(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("create storage backend: %w", err)
		}
	}

	pool, err := worker.NewPool(cfg.Worker, log)
	if err != nil {
		return nil, fmt.Errorf("create encode pool: %w", err)
	}
	if err = pool.Start(); err != nil {
		return nil, fmt.Errorf("start encode pool: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.SetWorkerPoolMetrics(pool.Size(), 0)

	sink, err := archive.Start(
		storage.NewCommitter(backend, log),
		archive.WithConfig(cfg.Archive),
		archive.WithPool(pool),
		archive.WithMetrics(m),
		archive.WithLogger(log),
	)
	if err != nil {
		_ = pool.Stop(context.Background())
		return nil, fmt.Errorf("start archive actor: %w", err)
	}

	p := &Pipeline{Sink: sink, logger: log, pool: pool}

	if cfg.Server.Enabled() {
		p.server = api.NewServer(cfg.Server, log, sink, reg)
		errCh := p.server.StartAsync()
		go func() {
			if serveErr := <-errCh; serveErr != nil {
				log.Error("HTTP server failed", logger.Error(serveErr))
			}
		}()
	}

	return p, nil
}

// Close finishes the archive actor, committing everything it holds, then
// stops the pool and server.
func (p *Pipeline) Close(ctx context.Context) error {
	finishErr := p.Sink.Finish(ctx)

	if err := p.pool.Stop(ctx); err != nil {
		p.logger.Warn("Failed to stop encode pool", logger.Error(err))
	}
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			p.logger.Warn("Failed to stop HTTP server", logger.Error(err))
		}
	}

	stats := p.Sink.Stats()
	p.logger.Info("Archiving finished",
		logger.Int64("records_written", stats.RecordsWritten),
		logger.Int64("revisits", stats.Revisits),
		logger.Int64("encode_failures", stats.EncodeFailures),
		logger.Int64("dropped", stats.Dropped),
		logger.Int64("archives_committed", stats.ArchivesCommitted),
		logger.Int64("commit_failures", stats.CommitFailures),
	)
	_ = p.logger.Sync()

	if finishErr != nil {
		return fmt.Errorf("finish archive actor: %w", finishErr)
	}
	if stats.CommitFailures > 0 {
		return fmt.Errorf("%d archive(s) could not be committed", stats.CommitFailures)
	}
	return nil
}
