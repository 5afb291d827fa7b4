package storage_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/storage"
	storagemocks "github.com/jonesrussell/north-cloud/warc-archiver/testutils/mocks/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var archiveNamePattern = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{9}Z_[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\.warc\.gz$`,
)

func TestArchiveName(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("EST", -5*60*60))
	a := storage.ArchiveName(now)
	b := storage.ArchiveName(now)

	assert.Regexp(t, archiveNamePattern, a)
	assert.Equal(t, "2024-03-09T19:05:07.000000000Z_", a[:len("2024-03-09T19:05:07.000000000Z_")], "timestamp is rendered in UTC")
	assert.NotEqual(t, a, b, "same instant still yields distinct names")
}

func TestArchiveName_SortsInTimeOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name           string
		earlier, later time.Time
	}{
		{"whole second then fraction", base, base.Add(500 * time.Millisecond)},
		{"shorter fraction first", base.Add(100 * time.Millisecond), base.Add(120 * time.Millisecond)},
		{"nanoseconds apart", base.Add(time.Nanosecond), base.Add(2 * time.Nanosecond)},
		{"across seconds", base.Add(999 * time.Millisecond), base.Add(time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := storage.ArchiveName(tt.earlier)
			b := storage.ArchiveName(tt.later)
			assert.Less(t, a, b)
		})
	}
}

func TestCommitter_Commit(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	backend := storagemocks.NewMockBackend(ctrl)
	data := []byte("archive bytes")

	gomock.InOrder(
		backend.EXPECT().EnsureDestination(gomock.Any()).Return(nil),
		backend.EXPECT().Put(gomock.Any(), "a.warc.gz", data).Return(nil),
	)
	backend.EXPECT().Describe().Return("mock://archives").AnyTimes()

	c := storage.NewCommitter(backend, logger.NewNop())
	require.NoError(t, c.Commit(context.Background(), data, "a.warc.gz"))
	assert.Equal(t, "mock://archives", c.Describe())
}

func TestCommitter_ClassifiesFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name    string
		setup   func(b *storagemocks.MockBackend)
		wantErr error
		notErr  error
	}{
		{
			name: "destination cannot be prepared",
			setup: func(b *storagemocks.MockBackend) {
				b.EXPECT().EnsureDestination(gomock.Any()).Return(boom)
			},
			wantErr: storage.ErrDirectoryCreation,
			notErr:  storage.ErrCommitFailed,
		},
		{
			name: "put fails",
			setup: func(b *storagemocks.MockBackend) {
				b.EXPECT().EnsureDestination(gomock.Any()).Return(nil)
				b.EXPECT().Put(gomock.Any(), "x.warc.gz", gomock.Any()).Return(boom)
			},
			wantErr: storage.ErrCommitFailed,
			notErr:  storage.ErrDirectoryCreation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			backend := storagemocks.NewMockBackend(ctrl)
			backend.EXPECT().Describe().Return("mock://").AnyTimes()
			tt.setup(backend)

			err := storage.NewCommitter(backend, nil).Commit(context.Background(), []byte("x"), "x.warc.gz")
			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorIs(t, err, boom)
			assert.NotErrorIs(t, err, tt.notErr)
		})
	}
}
