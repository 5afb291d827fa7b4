package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningPool(t *testing.T, size int) *worker.Pool {
	t.Helper()

	p, err := worker.NewPool(worker.Config{PoolSize: size, DrainTimeout: time.Second}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     worker.Config
		wantErr bool
	}{
		{"defaults", worker.DefaultConfig(), false},
		{"zero size", worker.Config{PoolSize: 0, DrainTimeout: time.Second}, true},
		{"too large", worker.Config{PoolSize: worker.MaxPoolSize + 1, DrainTimeout: time.Second}, true},
		{"no drain timeout", worker.Config{PoolSize: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPool_RunReturnsJobResult(t *testing.T) {
	t.Parallel()

	p := newRunningPool(t, 2)
	jobErr := errors.New("boom")

	require.NoError(t, p.Run(context.Background(), func() error { return nil }))
	require.ErrorIs(t, p.Run(context.Background(), func() error { return jobErr }), jobErr)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.JobsProcessed)
	assert.Equal(t, int64(1), stats.JobsFailed)
	assert.Equal(t, worker.StateRunning, stats.State)
}

func TestPool_RecoversPanics(t *testing.T) {
	t.Parallel()

	p := newRunningPool(t, 1)
	err := p.Run(context.Background(), func() error { panic("bad input") })
	require.ErrorIs(t, err, worker.ErrJobPanicked)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 2
	p := newRunningPool(t, size)

	var running, peak atomic.Int32
	release := make(chan struct{})
	results := make([]<-chan error, 0, 4)

	job := func() error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}

	for range size {
		res, err := p.Submit(context.Background(), job)
		require.NoError(t, err)
		results = append(results, res)
	}

	// Every slot is taken, so a further submit blocks until the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, job)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	for _, res := range results {
		require.NoError(t, <-res)
	}
	assert.LessOrEqual(t, peak.Load(), int32(size))
}

func TestPool_RejectsWhenNotRunning(t *testing.T) {
	t.Parallel()

	p, err := worker.NewPool(worker.Config{PoolSize: 1}, nil)
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, worker.ErrPoolNotRunning)

	require.NoError(t, p.Start())
	require.Error(t, p.Start())
	require.NoError(t, p.Stop(context.Background()))
	require.ErrorIs(t, p.Stop(context.Background()), worker.ErrPoolNotRunning)

	_, err = p.Submit(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, worker.ErrPoolNotRunning)
	assert.Equal(t, "stopped", p.State().String())
}
