package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
)

var (
	// ErrPoolNotRunning is returned when submitting to a pool that is not running.
	ErrPoolNotRunning = errors.New("pool is not running")
	// ErrJobPanicked wraps a panic recovered from a job.
	ErrJobPanicked = errors.New("job panicked")
)

// State is the pool lifecycle: stopped, running, then draining back to stopped.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Job is a unit of CPU-bound work.
type Job func() error

// Pool runs jobs on at most PoolSize goroutines at a time. A single pool may
// be shared by several archive actors.
type Pool struct {
	config Config
	logger logger.Logger
	state  atomic.Int32
	sem    chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}

	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
}

// NewPool validates cfg and returns a stopped pool.
func NewPool(cfg Config, log logger.Logger) (*Pool, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Pool{
		config: cfg,
		logger: log,
		sem:    make(chan struct{}, cfg.PoolSize),
		stopCh: make(chan struct{}),
	}
	p.state.Store(int32(StateStopped))

	return p, nil
}

// Start opens the pool for jobs.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return fmt.Errorf("start pool: state is %s", p.State())
	}

	p.logger.Debug("encode pool started", logger.Int("pool_size", p.config.PoolSize))
	return nil
}

// Stop refuses new jobs and waits, bounded by ctx and the drain timeout,
// for running ones.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return ErrPoolNotRunning
	}

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("encode pool stopped")
	case <-ctx.Done():
		p.logger.Warn("encode pool stop cancelled")
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn("encode pool drain timeout exceeded")
	}

	p.state.Store(int32(StateStopped))
	return nil
}

// Submit schedules job, blocking while every slot is busy. The returned
// channel receives the job's result exactly once.
func (p *Pool) Submit(ctx context.Context, job Job) (<-chan error, error) {
	if p.State() != StateRunning {
		return nil, ErrPoolNotRunning
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopCh:
		return nil, ErrPoolNotRunning
	}

	result := make(chan error, 1)
	p.wg.Add(1)

	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		err := runJob(job)
		p.jobsProcessed.Add(1)
		if err != nil {
			p.jobsFailed.Add(1)
		}
		result <- err
	}()

	return result, nil
}

// Run submits job and waits for it. Once the job has started Run waits for
// it to return even if ctx is cancelled, so callers can rely on the job
// being finished when Run returns.
func (p *Pool) Run(ctx context.Context, job Job) error {
	result, err := p.Submit(ctx, job)
	if err != nil {
		return err
	}
	return <-result
}

func runJob(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job()
}

func (p *Pool) State() State {
	return State(p.state.Load())
}

// Size is the number of jobs that may run at once.
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		State:         p.State(),
		PoolSize:      p.config.PoolSize,
		BusyWorkers:   len(p.sem),
		JobsProcessed: p.jobsProcessed.Load(),
		JobsFailed:    p.jobsFailed.Load(),
	}
}

type Stats struct {
	State         State
	PoolSize      int
	BusyWorkers   int
	JobsProcessed int64
	JobsFailed    int64
}
