package archive_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/archive"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/domain"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/metrics"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/storage"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/warc"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/worker"
	storagemocks "github.com/jonesrussell/north-cloud/warc-archiver/testutils/mocks/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fetchedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// memCommitter keeps committed archives in memory. When gate is non-nil
// every commit blocks until it is closed.
type memCommitter struct {
	mu       sync.Mutex
	archives map[string][]byte
	gate     chan struct{}

	pending    atomic.Int32
	maxPending atomic.Int32
}

func newMemCommitter() *memCommitter {
	return &memCommitter{archives: map[string][]byte{}}
}

func (c *memCommitter) Commit(_ context.Context, data []byte, name string) error {
	n := c.pending.Add(1)
	defer c.pending.Add(-1)
	for {
		peak := c.maxPending.Load()
		if n <= peak || c.maxPending.CompareAndSwap(peak, n) {
			break
		}
	}

	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.archives[name]; ok {
		return fmt.Errorf("duplicate archive name %s", name)
	}
	c.archives[name] = append([]byte(nil), data...)
	return nil
}

func (c *memCommitter) Describe() string { return "mem://" }

// names returns archive names in commit-naming order.
func (c *memCommitter) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.archives))
	for n := range c.archives {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *memCommitter) entries(t *testing.T, name string) []*warc.Entry {
	t.Helper()
	c.mu.Lock()
	data := c.archives[name]
	c.mu.Unlock()
	entries, err := warc.ReadAll(data)
	require.NoError(t, err)
	return entries
}

// sequentialNames yields archive-000.warc.gz, archive-001.warc.gz, ...
func sequentialNames() archive.Option {
	var n atomic.Int32
	return archive.WithNameFunc(func(time.Time) string {
		return fmt.Sprintf("archive-%03d.warc.gz", n.Add(1)-1)
	})
}

func datum(t *testing.T, rawURL, body string) domain.CrawlDatum {
	t.Helper()
	d, err := domain.NewCrawlDatum(rawURL, fetchedAt, []byte(body), "text/html", 25*time.Millisecond)
	require.NoError(t, err)
	return d
}

func startSink(t *testing.T, c archive.Committer, opts ...archive.Option) *archive.Sink {
	t.Helper()
	opts = append([]archive.Option{archive.WithLogger(logger.NewNop())}, opts...)
	sink, err := archive.Start(c, opts...)
	require.NoError(t, err)
	return sink
}

func payloadTypes(entries []*warc.Entry) []string {
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type())
	}
	return types
}

// encodedSize returns the uncompressed size of d written as a full record.
func encodedSize(t *testing.T, d domain.CrawlDatum) int {
	t.Helper()
	out, err := warc.NewDeduplicatedWriter().Write(warc.FromDatum(d))
	require.NoError(t, err)
	return out.EncodedBytes
}

func TestSink_DuplicateBodiesBecomeRevisits(t *testing.T) {
	t.Parallel()

	c := newMemCommitter()
	sink := startSink(t, c, sequentialNames())
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, datum(t, "https://example.com/a", "AAAA")))
	require.NoError(t, sink.Write(ctx, datum(t, "https://example.com/a-mirror", "AAAA")))
	require.NoError(t, sink.Write(ctx, datum(t, "https://example.com/b", "BBBB")))
	require.NoError(t, sink.Finish(ctx))

	require.Equal(t, []string{"archive-000.warc.gz"}, c.names())
	entries := c.entries(t, "archive-000.warc.gz")
	assert.Equal(t, []string{
		"request", "response", "metadata",
		"request", "revisit", "metadata",
		"request", "response", "metadata",
	}, payloadTypes(entries))

	assert.Equal(t, entries[1].RecordID(), entries[4].RefersTo())
	assert.Equal(t, "https://example.com/a", entries[4].Get("WARC-Refers-To-Target-URI"))
	assert.Empty(t, entries[4].Block)

	stats := sink.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.Revisits)
	assert.Equal(t, int64(1), stats.ArchivesCommitted)
	assert.Equal(t, archive.StateTerminated, stats.State)
}

func TestSink_RotatesPastThreshold(t *testing.T) {
	t.Parallel()

	records := make([]domain.CrawlDatum, 5)
	for i := range records {
		records[i] = datum(t, fmt.Sprintf("https://example.com/page-%d", i), fmt.Sprintf("body-%d", i))
	}
	size := encodedSize(t, records[0])

	// Two records fit; the third pushes the archive past the threshold.
	c := newMemCommitter()
	sink := startSink(t, c, sequentialNames(), archive.WithRotationThreshold(uint64(2*size)))
	for _, d := range records {
		require.NoError(t, sink.Write(context.Background(), d))
	}
	require.NoError(t, sink.Finish(context.Background()))

	require.Equal(t, []string{"archive-000.warc.gz", "archive-001.warc.gz"}, c.names())
	assert.Len(t, c.entries(t, "archive-000.warc.gz"), 9)
	assert.Len(t, c.entries(t, "archive-001.warc.gz"), 6)
	assert.Equal(t, int64(1), sink.Stats().Rotations)
}

func TestSink_DedupIsScopedToOneArchive(t *testing.T) {
	t.Parallel()

	c := newMemCommitter()
	sink := startSink(t, c, sequentialNames(), archive.WithRotationThreshold(1))
	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/a", "same")))
	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/b", "same")))
	require.NoError(t, sink.Finish(context.Background()))

	names := c.names()
	require.Len(t, names, 2, "every record rotates, and the empty final archive is not committed")
	for _, name := range names {
		assert.Equal(t, []string{"request", "response", "metadata"}, payloadTypes(c.entries(t, name)))
	}
	assert.Zero(t, sink.Stats().Revisits)
}

func TestSink_PreservesOrderAcrossArchives(t *testing.T) {
	t.Parallel()

	var want []string
	c := newMemCommitter()
	sink := startSink(t, c, sequentialNames(), archive.WithRotationThreshold(2000))
	for i := range 40 {
		u := fmt.Sprintf("https://example.com/%02d", i)
		want = append(want, u)
		// Every fourth page repeats an earlier body.
		body := fmt.Sprintf("page body %d", i)
		if i%4 == 3 {
			body = fmt.Sprintf("page body %d", i-1)
		}
		require.NoError(t, sink.Write(context.Background(), datum(t, u, body)))
	}
	require.NoError(t, sink.Finish(context.Background()))

	names := c.names()
	require.Greater(t, len(names), 1)

	var got []string
	for _, name := range names {
		for _, e := range c.entries(t, name) {
			if e.Type() == "response" || e.Type() == "revisit" {
				got = append(got, e.TargetURI())
			}
		}
	}
	assert.Equal(t, want, got)
}

func TestSink_FinishWithoutWritesCommitsNothing(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	backend := storagemocks.NewMockBackend(ctrl)
	backend.EXPECT().Describe().Return("mock://").AnyTimes()

	sink := startSink(t, storage.NewCommitter(backend, nil))
	require.NoError(t, sink.Finish(context.Background()))
	assert.Zero(t, sink.Stats().ArchivesCommitted)
}

func TestSink_RejectsAfterFinish(t *testing.T) {
	t.Parallel()

	sink := startSink(t, newMemCommitter())
	require.NoError(t, sink.Finish(context.Background()))

	require.ErrorIs(t, sink.Finish(context.Background()), archive.ErrChannelClosed)
	require.ErrorIs(t, sink.Write(context.Background(), datum(t, "https://example.com/", "x")), archive.ErrChannelClosed)
	assert.Equal(t, archive.StateTerminated, sink.State())

	select {
	case <-sink.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestSink_ConcurrentFinishSucceedsOnce(t *testing.T) {
	t.Parallel()

	sink := startSink(t, newMemCommitter())
	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/", "x")))

	const callers = 4
	errs := make(chan error, callers)
	for range callers {
		go func() { errs <- sink.Finish(context.Background()) }()
	}

	var ok, closed int
	for range callers {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, archive.ErrChannelClosed):
			closed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, closed)
}

func TestSink_Backpressure(t *testing.T) {
	t.Parallel()

	pool, err := worker.NewPool(worker.Config{PoolSize: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	// Occupy the only encode slot so the actor stalls on its first record.
	release := make(chan struct{})
	blocker, err := pool.Submit(context.Background(), func() error {
		<-release
		return nil
	})
	require.NoError(t, err)

	c := newMemCommitter()
	sink := startSink(t, c, archive.WithPool(pool))

	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/1", "one")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = sink.Write(ctx, datum(t, "https://example.com/2", "two"))
	require.ErrorIs(t, err, context.DeadlineExceeded, "a second record is not accepted while one is in flight")

	close(release)
	require.NoError(t, <-blocker)

	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/3", "three")))
	require.NoError(t, sink.Finish(context.Background()))

	assert.Equal(t, int64(2), sink.Stats().RecordsWritten, "the rejected record was never accepted")
	assert.Equal(t, worker.StateRunning, pool.State(), "a shared pool is left running")
}

func TestSink_FinishWaitsForRotationCommits(t *testing.T) {
	t.Parallel()

	c := newMemCommitter()
	c.gate = make(chan struct{})
	sink := startSink(t, c, archive.WithRotationThreshold(1))

	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/", "x")))

	finished := make(chan error, 1)
	go func() { finished <- sink.Finish(context.Background()) }()

	require.Eventually(t, func() bool { return sink.State() == archive.StateDraining }, time.Second, 5*time.Millisecond)
	select {
	case <-finished:
		t.Fatal("finish returned before the rotated archive was committed")
	case <-time.After(50 * time.Millisecond):
	}

	close(c.gate)
	require.NoError(t, <-finished)
	assert.Len(t, c.names(), 1)
	assert.Equal(t, int64(1), sink.Stats().ArchivesCommitted)
}

func TestSink_RotationWaitsForCommitSlot(t *testing.T) {
	t.Parallel()

	c := newMemCommitter()
	c.gate = make(chan struct{})
	sink := startSink(t, c, sequentialNames(), archive.WithRotationThreshold(1), archive.WithMaxPendingCommits(1))
	ctx := context.Background()

	// The first rotation takes the only slot and its commit stalls.
	require.NoError(t, sink.Write(ctx, datum(t, "https://example.com/1", "one")))
	require.Eventually(t, func() bool { return c.pending.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The second record is accepted, but its rotation has to wait.
	require.NoError(t, sink.Write(ctx, datum(t, "https://example.com/2", "two")))
	require.Eventually(t, func() bool { return sink.State() == archive.StateRotating }, time.Second, 5*time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sink.Write(short, datum(t, "https://example.com/3", "three")), context.DeadlineExceeded,
		"producers are held back while no commit slot is free")
	assert.Equal(t, int32(1), c.pending.Load())

	close(c.gate)
	require.NoError(t, sink.Write(ctx, datum(t, "https://example.com/4", "four")))
	require.NoError(t, sink.Finish(ctx))

	assert.Equal(t, int32(1), c.maxPending.Load(), "rotated archives never commit concurrently beyond the bound")
	assert.Equal(t, []string{"archive-000.warc.gz", "archive-001.warc.gz", "archive-002.warc.gz"}, c.names())
	assert.Equal(t, int64(3), sink.Stats().RecordsWritten)
}

func TestSink_ManyRotationsStayBounded(t *testing.T) {
	t.Parallel()

	c := newMemCommitter()
	c.gate = make(chan struct{})
	sink := startSink(t, c, archive.WithRotationThreshold(1), archive.WithMaxPendingCommits(2))

	records := make([]domain.CrawlDatum, 200)
	for i := range records {
		records[i] = datum(t, fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("body-%d", i))
	}

	accepted := make(chan int, 1)
	go func() {
		n := 0
		for _, d := range records {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			err := sink.Write(ctx, d)
			cancel()
			if err != nil {
				break
			}
			n++
		}
		accepted <- n
	}()

	n := <-accepted
	assert.LessOrEqual(t, n, 3, "two archives committing, one waiting for a slot")
	assert.LessOrEqual(t, c.pending.Load(), int32(2))

	close(c.gate)
	require.NoError(t, sink.Finish(context.Background()))
	assert.LessOrEqual(t, c.maxPending.Load(), int32(2))
	assert.Len(t, c.names(), n)
}

func TestSink_StoppedPoolDropsRecord(t *testing.T) {
	t.Parallel()

	pool, err := worker.NewPool(worker.Config{PoolSize: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := newMemCommitter()
	sink := startSink(t, c, archive.WithPool(pool), archive.WithMetrics(m))

	require.NoError(t, pool.Stop(context.Background()))
	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/", "x")))
	require.NoError(t, sink.Finish(context.Background()))

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Zero(t, stats.EncodeFailures, "an unavailable pool is not an encoding error")
	assert.Zero(t, stats.RecordsWritten)
	assert.Zero(t, testutil.ToFloat64(m.EncodeFailures))
	assert.Empty(t, c.names())
}

func TestSink_FinishContextCancelledStillDrains(t *testing.T) {
	t.Parallel()

	c := newMemCommitter()
	c.gate = make(chan struct{})
	sink := startSink(t, c)
	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/", "x")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sink.Finish(ctx), context.DeadlineExceeded)

	close(c.gate)
	<-sink.Done()
	assert.Len(t, c.names(), 1)
}

func TestSink_CommitFailureDoesNotStopActor(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	backend := storagemocks.NewMockBackend(ctrl)
	backend.EXPECT().Describe().Return("mock://").AnyTimes()
	backend.EXPECT().EnsureDestination(gomock.Any()).Return(nil).Times(2)
	backend.EXPECT().Put(gomock.Any(), "archive-000.warc.gz", gomock.Any()).Return(errors.New("disk full"))
	backend.EXPECT().Put(gomock.Any(), "archive-001.warc.gz", gomock.Any()).Return(nil)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := startSink(t, storage.NewCommitter(backend, nil),
		sequentialNames(), archive.WithRotationThreshold(1), archive.WithMetrics(m))

	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/a", "a")))
	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/b", "b")))
	require.NoError(t, sink.Finish(context.Background()))

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.CommitFailures)
	assert.Equal(t, int64(1), stats.ArchivesCommitted)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CommitsTotal.WithLabelValues(metrics.StatusFailure)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CommitsTotal.WithLabelValues(metrics.StatusSuccess)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Rotations), 0)
}

func TestSink_DirectoryFailureDoesNotStopActor(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	backend := storagemocks.NewMockBackend(ctrl)
	backend.EXPECT().Describe().Return("mock://").AnyTimes()
	gomock.InOrder(
		backend.EXPECT().EnsureDestination(gomock.Any()).Return(errors.New("permission denied")),
		backend.EXPECT().EnsureDestination(gomock.Any()).Return(nil),
	)
	backend.EXPECT().Put(gomock.Any(), "archive-001.warc.gz", gomock.Any()).Return(nil)

	sink := startSink(t, storage.NewCommitter(backend, nil), sequentialNames(), archive.WithRotationThreshold(1))

	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/a", "a")))
	require.Eventually(t, func() bool { return sink.Stats().CommitFailures == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/b", "b")))
	require.NoError(t, sink.Finish(context.Background()))

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.CommitFailures)
	assert.Equal(t, int64(1), stats.ArchivesCommitted)
}

func TestSink_EncodeFailureDropsRecord(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := newMemCommitter()
	sink := startSink(t, c, sequentialNames(), archive.WithMetrics(m))

	bad := domain.CrawlDatum{URL: &url.URL{Path: "relative/page"}, Date: fetchedAt, Body: []byte("x")}
	require.NoError(t, sink.Write(context.Background(), bad), "encode failures are not reported to producers")
	require.NoError(t, sink.Write(context.Background(), datum(t, "https://example.com/ok", "ok")))
	require.NoError(t, sink.Finish(context.Background()))

	entries := c.entries(t, "archive-000.warc.gz")
	require.Len(t, entries, 3)
	assert.Equal(t, "https://example.com/ok", entries[1].TargetURI())

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.EncodeFailures)
	assert.Equal(t, int64(1), stats.RecordsWritten)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EncodeFailures), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RecordsWritten.WithLabelValues("response")), 0)
}

func TestSink_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	pool, err := worker.NewPool(worker.Config{PoolSize: 4}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	c := newMemCommitter()
	sink := startSink(t, c, archive.WithPool(pool), archive.WithRotationThreshold(4096))

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				d := datum(t, fmt.Sprintf("https://example.com/%d/%d", p, i), fmt.Sprintf("body %d", i))
				assert.NoError(t, sink.Write(context.Background(), d))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Finish(context.Background()))

	var payloads int
	for _, name := range c.names() {
		for _, e := range c.entries(t, name) {
			if e.Type() == "response" || e.Type() == "revisit" {
				payloads++
			}
		}
	}
	assert.Equal(t, producers*perProducer, payloads)
	assert.Equal(t, int64(producers*perProducer), sink.Stats().RecordsWritten)
}

func TestStart_RequiresCommitter(t *testing.T) {
	t.Parallel()

	_, err := archive.Start(nil)
	require.Error(t, err)
}
