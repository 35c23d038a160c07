package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vtpl1/camrelay/models"
)

// MemStore is an in-process Store used when no MongoDB connection string is
// configured and by package tests.
type MemStore struct {
	mu       sync.Mutex
	cameras  map[string]models.Camera
	segments []models.RecordingSegment
	events   []models.EventLogEntry
	nextSeg  map[string]int64
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		cameras: make(map[string]models.Camera),
		nextSeg: make(map[string]int64),
	}
}

func (s *MemStore) UpsertCamera(_ context.Context, cam *models.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras[cam.ID] = *cam
	return nil
}

func (s *MemStore) CameraByID(_ context.Context, id string) (*models.Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, ok := s.cameras[id]
	if !ok {
		return nil, ErrCameraNotFound
	}
	return &cam, nil
}

func (s *MemStore) CameraByAgentName(_ context.Context, agentName string) (*models.Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cam := range s.cameras {
		if cam.AgentName == agentName {
			c := cam
			return &c, nil
		}
	}
	return nil, ErrCameraNotFound
}

func (s *MemStore) Cameras(_ context.Context, includeTombstoned bool) ([]models.Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cams := make([]models.Camera, 0, len(s.cameras))
	for _, cam := range s.cameras {
		if cam.Tombstoned && !includeTombstoned {
			continue
		}
		cams = append(cams, cam)
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i].Name < cams[j].Name })
	return cams, nil
}

func (s *MemStore) InsertSegment(_ context.Context, seg *models.RecordingSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, *seg)
	return nil
}

func (s *MemStore) CloseSegment(_ context.Context, cameraID string, segmentID int64, end time.Time, byteSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.segments {
		if s.segments[i].CameraID != cameraID || s.segments[i].SegmentID != segmentID {
			continue
		}
		if s.segments[i].State != models.SegmentOpen {
			return ErrSegmentStateConflict
		}
		s.segments[i].State = models.SegmentClosed
		s.segments[i].EndTime = end
		s.segments[i].ByteSize = byteSize
		return nil
	}
	return ErrSegmentNotFound
}

func (s *MemStore) MarkSegmentDeleted(_ context.Context, cameraID string, segmentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.segments {
		if s.segments[i].CameraID != cameraID || s.segments[i].SegmentID != segmentID {
			continue
		}
		if s.segments[i].State != models.SegmentClosed {
			return ErrSegmentStateConflict
		}
		s.segments[i].State = models.SegmentDeleted
		return nil
	}
	return ErrSegmentNotFound
}

func (s *MemStore) OpenSegments(_ context.Context) ([]models.RecordingSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RecordingSegment
	for _, seg := range s.segments {
		if seg.State == models.SegmentOpen {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (s *MemStore) SegmentsByCamera(_ context.Context, cameraID string, from, to time.Time) ([]models.RecordingSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RecordingSegment
	for _, seg := range s.segments {
		if seg.CameraID != cameraID || seg.State == models.SegmentDeleted {
			continue
		}
		if !from.IsZero() && seg.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && seg.StartTime.After(to) {
			continue
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *MemStore) ClosedSegmentsOlderThan(_ context.Context, cutoff time.Time) ([]models.RecordingSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RecordingSegment
	for _, seg := range s.segments {
		if seg.State == models.SegmentClosed && seg.StartTime.Before(cutoff) {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *MemStore) OldestClosedSegments(_ context.Context, limit int) ([]models.RecordingSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RecordingSegment
	for _, seg := range s.segments {
		if seg.State == models.SegmentClosed {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) NextSegmentID(_ context.Context, cameraID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeg[cameraID]++
	return s.nextSeg[cameraID], nil
}

func (s *MemStore) AppendEvent(_ context.Context, entry *models.EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *entry)
	return nil
}

func (s *MemStore) Events(_ context.Context, filter EventFilter) ([]models.EventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventLogEntry
	for _, e := range s.events {
		if filter.CameraID != "" && e.CameraID != filter.CameraID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemStore) PruneEvents(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	pruned := 0
	for _, e := range s.events {
		if e.Timestamp.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return pruned, nil
}
