package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtpl1/camrelay/eventlog"
	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

func newTestPipeline(t *testing.T, segDur time.Duration) (*Pipeline, *store.MemStore, *eventlog.Log) {
	t.Helper()
	s := store.NewMemStore()
	events := eventlog.New(s, 64)
	p := NewPipeline("cam-1", t.TempDir(), segDur, s, events)
	require.NoError(t, os.MkdirAll(p.dir, 0o755))
	return p, s, events
}

func TestWriteOpensSegmentOnFirstChunk(t *testing.T) {
	p, s, events := newTestPipeline(t, 5*time.Minute)
	base := time.Date(2026, 8, 30, 12, 3, 20, 0, time.UTC)
	p.now = func() time.Time { return base }

	p.write([]byte("chunk-one"))
	p.write([]byte("chunk-two"))

	open, err := s.OpenSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	seg := open[0]
	assert.Equal(t, int64(1), seg.SegmentID)
	assert.True(t, seg.StartTime.Equal(base))

	// bytes land in the segment file and in the in-memory counter
	data, err := os.ReadFile(seg.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "chunk-onechunk-two", string(data))
	assert.Equal(t, int64(len(data)), p.Status().BytesWritten)

	// the sidecar mirrors the open segment
	side, err := ReadSidecar(seg.FilePath + sidecarExt)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentOpen, side.State)
	assert.Equal(t, int64(1), side.SegmentID)

	events.Close()
	started, err := s.Events(context.Background(), store.EventFilter{Kind: models.EventRecordingStart})
	require.NoError(t, err)
	assert.Len(t, started, 1)
}

func TestRotationClosesAtWallClockBoundary(t *testing.T) {
	p, s, _ := newTestPipeline(t, 5*time.Minute)
	base := time.Date(2026, 8, 30, 12, 3, 20, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	p.write([]byte("before"))

	// short of the boundary nothing rotates
	now = time.Date(2026, 8, 30, 12, 4, 59, 0, time.UTC)
	p.rotateIfDue()
	open, err := s.OpenSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(1), open[0].SegmentID)

	// crossing the aligned boundary closes segment 1 and opens segment 2
	now = time.Date(2026, 8, 30, 12, 5, 0, 0, time.UTC)
	p.rotateIfDue()

	open, err = s.OpenSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].SegmentID)

	closed, err := s.SegmentsByCamera(context.Background(), "cam-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, models.SegmentClosed, closed[0].State)
	assert.True(t, closed[0].EndTime.Equal(now))
	assert.Equal(t, int64(len("before")), closed[0].ByteSize)

	side, err := ReadSidecar(closed[0].FilePath + sidecarExt)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentClosed, side.State)
}

func TestRotationIsIdleWithoutSegment(t *testing.T) {
	p, s, _ := newTestPipeline(t, 5*time.Minute)
	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	p.rotateIfDue()
	open, err := s.OpenSegments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestInterruptBoundsSegmentAtGap(t *testing.T) {
	p, s, events := newTestPipeline(t, 5*time.Minute)
	base := time.Date(2026, 8, 30, 12, 0, 10, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	p.write([]byte("before-gap"))
	now = base.Add(30 * time.Second)
	p.Interrupt()

	open, err := s.OpenSegments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.False(t, p.Status().Recording)

	// the next chunk after the outage starts a fresh segment
	now = base.Add(2 * time.Minute)
	p.write([]byte("after-gap"))
	open, err = s.OpenSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].SegmentID)
	assert.True(t, open[0].StartTime.Equal(now))

	events.Close()
	stops, err := s.Events(context.Background(), store.EventFilter{Kind: models.EventRecordingStop})
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, "relay interrupted", stops[0].Detail)
}

func TestInterruptWithoutSegmentIsNoop(t *testing.T) {
	p, _, _ := newTestPipeline(t, 5*time.Minute)
	assert.NotPanics(t, p.Interrupt)
}

func TestPipelineStartIngestStop(t *testing.T) {
	s := store.NewMemStore()
	events := eventlog.New(s, 64)
	defer events.Close()
	p := NewPipeline("cam-1", t.TempDir(), 5*time.Minute, s, events)
	require.NoError(t, p.Start())

	p.Ingest([]byte("live-chunk"))
	assert.Eventually(t, func() bool {
		return p.Status().BytesWritten == int64(len("live-chunk"))
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, p.Status().Recording)

	p.Stop()
	// Stop is idempotent
	p.Stop()

	open, err := s.OpenSegments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	segs, err := s.SegmentsByCamera(context.Background(), "cam-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, models.SegmentClosed, segs[0].State)
	assert.Equal(t, int64(len("live-chunk")), segs[0].ByteSize)
}

func TestSubscriberReceivesIngestedChunks(t *testing.T) {
	s := store.NewMemStore()
	events := eventlog.New(s, 64)
	defer events.Close()
	p := NewPipeline("cam-1", t.TempDir(), 5*time.Minute, s, events)
	require.NoError(t, p.Start())
	defer p.Stop()

	sub := p.Subscribe()
	p.Ingest([]byte("frame-a"))
	p.Ingest([]byte("frame-b"))

	assert.Equal(t, "frame-a", string(<-sub.Frames()))
	assert.Equal(t, "frame-b", string(<-sub.Frames()))
	sub.Unsubscribe()
}

func TestFanoutDropsOldestForSlowViewer(t *testing.T) {
	f := NewFanout()
	sub := f.Subscribe()

	for i := byte(0); i < subscriberBufferSize+8; i++ {
		f.Publish([]byte{i})
	}

	// the buffer holds the newest frames, the oldest were dropped
	first := <-sub.Frames()
	assert.Equal(t, byte(8), first[0])

	got := 1
	for {
		select {
		case <-sub.Frames():
			got++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBufferSize, got)
}

func TestFanoutCloseEndsSubscribers(t *testing.T) {
	f := NewFanout()
	sub := f.Subscribe()
	f.Close()

	_, ok := <-sub.Frames()
	assert.False(t, ok)

	// subscribing after close yields an already-closed channel
	late := f.Subscribe()
	_, ok = <-late.Frames()
	assert.False(t, ok)

	assert.NotPanics(t, func() { f.Publish([]byte("x")) })
	assert.NotPanics(t, f.Close)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := NewFanout()
	sub := f.Subscribe()
	keep := f.Subscribe()

	sub.Unsubscribe()
	f.Publish([]byte("after"))

	_, ok := <-sub.Frames()
	assert.False(t, ok)
	assert.Equal(t, "after", string(<-keep.Frames()))

	assert.NotPanics(t, sub.Unsubscribe)
}

func TestManagerEnsureAndStatus(t *testing.T) {
	s := store.NewMemStore()
	events := eventlog.New(s, 64)
	defer events.Close()
	m := NewManager(t.TempDir(), 5*time.Minute, s, events)

	_, err := m.Status("cam-1")
	assert.ErrorIs(t, err, models.ErrCameraOffline)

	p1, err := m.Ensure("cam-1")
	require.NoError(t, err)
	p2, err := m.Ensure("cam-1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	st, err := m.Status("cam-1")
	require.NoError(t, err)
	assert.Equal(t, "cam-1", st.CameraID)
	assert.False(t, st.Recording)

	m.StopAll()
	_, err = m.Status("cam-1")
	assert.ErrorIs(t, err, models.ErrCameraOffline)
}

func TestManagerFollowsStatusChanges(t *testing.T) {
	s := store.NewMemStore()
	events := eventlog.New(s, 64)
	defer events.Close()
	m := NewManager(t.TempDir(), 5*time.Minute, s, events)

	changes := make(chan models.StatusChange)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, changes)
		close(done)
	}()

	changes <- models.StatusChange{CameraID: "cam-1", Status: models.CameraOnline}
	assert.Eventually(t, func() bool {
		_, ok := m.Pipeline("cam-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	changes <- models.StatusChange{CameraID: "cam-1", Status: models.CameraOffline}
	assert.Eventually(t, func() bool {
		_, ok := m.Pipeline("cam-1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestFinalizeOrphans(t *testing.T) {
	s := store.NewMemStore()
	events := eventlog.New(s, 64)
	m := NewManager(t.TempDir(), 5*time.Minute, s, events)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "seg_20260830_110000.mjpeg")
	require.NoError(t, os.WriteFile(path, []byte("orphaned-bytes"), 0o644))
	mtime := time.Date(2026, 8, 30, 11, 4, 30, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	require.NoError(t, s.InsertSegment(ctx, &models.RecordingSegment{
		CameraID:  "cam-1",
		SegmentID: 7,
		StartTime: mtime.Add(-5 * time.Minute),
		FilePath:  path,
		State:     models.SegmentOpen,
	}))

	require.NoError(t, m.FinalizeOrphans(ctx))

	open, err := s.OpenSegments(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	segs, err := s.SegmentsByCamera(ctx, "cam-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, models.SegmentClosed, segs[0].State)
	assert.True(t, segs[0].EndTime.Equal(mtime))
	assert.Equal(t, int64(len("orphaned-bytes")), segs[0].ByteSize)

	side, err := ReadSidecar(path + sidecarExt)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentClosed, side.State)

	events.Close()
	stops, err := s.Events(ctx, store.EventFilter{Kind: models.EventRecordingStop})
	require.NoError(t, err)
	assert.Len(t, stops, 1)
}
