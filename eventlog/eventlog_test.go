package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

func TestAppendPersistsThroughWriter(t *testing.T) {
	s := store.NewMemStore()
	l := New(s, 16)

	l.Append("cam-1", models.EventRegistered, "agent pi-front registered")
	l.Close()

	events, err := s.Events(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "cam-1", events[0].CameraID)
	assert.Equal(t, models.EventRegistered, events[0].Kind)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestAppendAtKeepsCallerTimestamp(t *testing.T) {
	s := store.NewMemStore()
	l := New(s, 16)

	ts := time.Date(2026, 8, 29, 9, 30, 0, 0, time.UTC)
	l.AppendAt(ts, "cam-1", models.EventMotionStart, "motion started, score 18.2")
	l.Close()

	events, err := s.Events(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(ts))
}

// slowStore blocks AppendEvent until released so entries pile up in the buffer
type slowStore struct {
	*store.MemStore
	release chan struct{}
}

func (s *slowStore) AppendEvent(ctx context.Context, entry *models.EventLogEntry) error {
	<-s.release
	return s.MemStore.AppendEvent(ctx, entry)
}

func TestAppendDropsOldestWhenFull(t *testing.T) {
	s := &slowStore{MemStore: store.NewMemStore(), release: make(chan struct{})}
	l := New(s, 4)

	// first entry parks in the writer, the rest fill the buffer
	for i := 0; i < 10; i++ {
		l.Append("cam-1", models.EventMotionStart, "entry")
	}
	assert.Positive(t, l.Dropped())
	assert.LessOrEqual(t, l.Dropped(), int64(10))

	close(s.release)
	l.Close()

	events, err := s.Events(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	// everything still buffered at close time was flushed
	assert.Len(t, events, 10-int(l.Dropped()))
}

func TestQueryDelegatesFilter(t *testing.T) {
	s := store.NewMemStore()
	l := New(s, 16)
	defer l.Close()

	require.NoError(t, s.AppendEvent(context.Background(), &models.EventLogEntry{
		ID: "e1", Timestamp: time.Now(), CameraID: "cam-1", Kind: models.EventRecordingStart,
	}))

	events, err := l.Query(context.Background(), store.EventFilter{CameraID: "cam-1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = l.Query(context.Background(), store.EventFilter{CameraID: "cam-2"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPruneRemovesOldEntries(t *testing.T) {
	s := store.NewMemStore()
	l := New(s, 16)
	defer l.Close()

	now := time.Now()
	require.NoError(t, s.AppendEvent(context.Background(), &models.EventLogEntry{
		ID: "old", Timestamp: now.Add(-72 * time.Hour), Kind: models.EventMotionStart,
	}))
	require.NoError(t, s.AppendEvent(context.Background(), &models.EventLogEntry{
		ID: "fresh", Timestamp: now, Kind: models.EventMotionStart,
	}))

	pruned, err := l.Prune(context.Background(), now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}
