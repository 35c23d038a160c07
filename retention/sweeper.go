// Package retention enforces the rolling storage window over recorded segments
package retention

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/eventlog"
	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

const evictionBatch = 16

// Sweeper deletes closed segments older than the rolling window, prunes the
// event log on the same window, reports stuck open segments and evicts
// oldest-first across all cameras under disk pressure. It never deletes an
// Open segment.
type Sweeper struct {
	store   store.Store
	events  *eventlog.Log
	baseDir string
	maxAge  time.Duration

	// SafetyMarginBytes is the free-space floor below which early eviction
	// starts.
	SafetyMarginBytes uint64
	// FreeSpace probes available bytes for the recordings directory.
	// Replaceable in tests to simulate disk pressure.
	FreeSpace func(dir string) (uint64, error)

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// New creates a sweeper for the given rolling window
func New(s store.Store, events *eventlog.Log, baseDir string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		store:             s,
		events:            events,
		baseDir:           baseDir,
		maxAge:            maxAge,
		SafetyMarginBytes: 512 << 20,
		FreeSpace:         freeSpace,
		stop:              make(chan struct{}),
		now:               time.Now,
	}
}

// Start launches the sweep loop
func (s *Sweeper) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop
func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Sweep runs one full retention pass
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.maxAge)

	s.sweepExpired(ctx, cutoff)
	s.reportStuck(ctx, cutoff)
	s.sweepDiskPressure(ctx)

	if pruned, err := s.events.Prune(ctx, cutoff); err != nil {
		log.Error().Err(err).Msg("Failed to prune event log")
	} else if pruned > 0 {
		log.Info().Int("pruned", pruned).Msg("Pruned event log entries outside retention window")
	}
}

func (s *Sweeper) sweepExpired(ctx context.Context, cutoff time.Time) {
	segs, err := s.store.ClosedSegmentsOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired segments")
		return
	}
	deleted := 0
	for _, seg := range segs {
		if s.deleteSegment(ctx, &seg) {
			deleted++
		}
	}
	if deleted > 0 {
		s.events.Append("", models.EventRetentionDelete,
			fmt.Sprintf("deleted %d segments older than %s", deleted, s.maxAge))
		log.Info().Int("deleted", deleted).Msg("Expired segments removed")
	}
}

// reportStuck flags Open segments older than the window. A segment that old is
// a stuck pipeline; the sweeper reports it and leaves it alone.
func (s *Sweeper) reportStuck(ctx context.Context, cutoff time.Time) {
	open, err := s.store.OpenSegments(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list open segments")
		return
	}
	for _, seg := range open {
		if seg.StartTime.Before(cutoff) {
			s.events.Append(seg.CameraID, models.EventStuckSegment,
				fmt.Sprintf("segment %d open since %s", seg.SegmentID, seg.StartTime.Format(time.RFC3339)))
			log.Warn().Str("cameraId", seg.CameraID).Int64("segmentId", seg.SegmentID).Time("start", seg.StartTime).Msg("Segment open past retention window")
		}
	}
}

func (s *Sweeper) sweepDiskPressure(ctx context.Context) {
	free, err := s.FreeSpace(s.baseDir)
	if err != nil {
		log.Error().Err(err).Str("dir", s.baseDir).Msg("Failed to probe free space")
		return
	}
	if free >= s.SafetyMarginBytes {
		return
	}
	log.Warn().Uint64("freeBytes", free).Uint64("marginBytes", s.SafetyMarginBytes).Msg("Disk pressure, evicting oldest segments early")
	evicted := 0
	for free < s.SafetyMarginBytes {
		segs, err := s.store.OldestClosedSegments(ctx, evictionBatch)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list eviction candidates")
			break
		}
		if len(segs) == 0 {
			log.Error().Uint64("freeBytes", free).Msg("Disk pressure persists with no closed segments left to evict")
			break
		}
		progressed := false
		for _, seg := range segs {
			if !s.deleteSegment(ctx, &seg) {
				continue
			}
			evicted++
			progressed = true
			if free, err = s.FreeSpace(s.baseDir); err != nil {
				log.Error().Err(err).Msg("Failed to re-probe free space")
				return
			}
			if free >= s.SafetyMarginBytes {
				break
			}
		}
		if !progressed {
			break
		}
	}
	if evicted > 0 {
		s.events.Append("", models.EventDiskPressure,
			fmt.Sprintf("evicted %d segments ahead of schedule, free space %d bytes", evicted, free))
	}
}

// deleteSegment removes the file, its sidecar and flips the record to Deleted.
// The state transition goes first: losing the race against a concurrent actor
// must not delete a file someone else still owns.
func (s *Sweeper) deleteSegment(ctx context.Context, seg *models.RecordingSegment) bool {
	if err := s.store.MarkSegmentDeleted(ctx, seg.CameraID, seg.SegmentID); err != nil {
		log.Error().Err(err).Str("cameraId", seg.CameraID).Int64("segmentId", seg.SegmentID).Msg("Failed to mark segment deleted")
		return false
	}
	if err := os.Remove(seg.FilePath); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("file", seg.FilePath).Msg("Failed to remove segment file")
	}
	if err := os.Remove(seg.FilePath + ".json"); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("file", seg.FilePath).Msg("Failed to remove segment sidecar")
	}
	return true
}
