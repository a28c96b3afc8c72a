package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlance-data/parlance/pkg/phase"
)

func newTestStore(t *testing.T) (*FileStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fs, err := NewFileStore(t.TempDir(), nil, clock)
	require.NoError(t, err)
	return fs, clock
}

func TestFileStoreCreateAndLoad(t *testing.T) {
	fs, _ := newTestStore(t)
	ctx := context.Background()

	s, err := fs.Create(ctx, "how many orders")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	loaded, err := fs.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, "how many orders", loaded.Request)
	assert.Equal(t, StatusActive, loaded.Status())
}

func TestFileStoreLoadMissing(t *testing.T) {
	fs, _ := newTestStore(t)
	_, err := fs.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreSaveIsIdempotentOverwrite(t *testing.T) {
	fs, _ := newTestStore(t)
	ctx := context.Background()

	s, err := fs.Create(ctx, "q")
	require.NoError(t, err)

	s.IncrementIteration()
	require.NoError(t, fs.Save(ctx, s))
	require.NoError(t, fs.Save(ctx, s))

	loaded, err := fs.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.IterationCount)
}

func TestFileStoreListFiltersAndLimits(t *testing.T) {
	fs, _ := newTestStore(t)
	ctx := context.Background()

	a, err := fs.Create(ctx, "query a")
	require.NoError(t, err)

	b, err := fs.Create(ctx, "query b")
	require.NoError(t, err)
	require.NoError(t, b.Machine.Transition(phase.Failed, "boom", nil))
	require.NoError(t, fs.Save(ctx, b))

	all, err := fs.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := fs.List(ctx, StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.ID, failed[0].ID)

	active, err := fs.List(ctx, StatusActive, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	limited, err := fs.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFileStoreDeleteMissingIsNoop(t *testing.T) {
	fs, _ := newTestStore(t)
	require.NoError(t, fs.Delete(context.Background(), "missing"))
}

func TestFileStoreSweep(t *testing.T) {
	fs, clock := newTestStore(t)
	ctx := context.Background()

	old := New("old completed")
	old.SetNowFunc(clock.Now)
	require.NoError(t, old.Machine.Transition(phase.Failed, "", nil))
	old.LastUpdated = clock.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, fs.Save(ctx, old))

	fresh := New("fresh failed")
	require.NoError(t, fresh.Machine.Transition(phase.Failed, "", nil))
	fresh.LastUpdated = clock.Now().Add(-time.Hour)
	require.NoError(t, fs.Save(ctx, fresh))

	active := New("still active")
	active.LastUpdated = clock.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, fs.Save(ctx, active))

	deleted, err := fs.Sweep(ctx, RetentionPolicy{
		CompletedAge: 30 * 24 * time.Hour,
		FailedAge:    90 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = fs.Load(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Fresh terminal and old-but-active sessions survive.
	_, err = fs.Load(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = fs.Load(ctx, active.ID)
	assert.NoError(t, err)
}
