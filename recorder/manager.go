package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/eventlog"
	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

// Manager starts one pipeline per online camera and stops it when the camera
// goes offline. A fault in one camera's pipeline never touches another's.
type Manager struct {
	baseDir string
	segDur  time.Duration
	store   store.Store
	events  *eventlog.Log

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewManager creates a pipeline manager
func NewManager(baseDir string, segDur time.Duration, s store.Store, events *eventlog.Log) *Manager {
	if segDur <= 0 {
		segDur = 5 * time.Minute
	}
	return &Manager{
		baseDir:   baseDir,
		segDur:    segDur,
		store:     s,
		events:    events,
		pipelines: make(map[string]*Pipeline),
	}
}

// Run consumes camera status changes until the context is cancelled, then
// stops every pipeline.
func (m *Manager) Run(ctx context.Context, changes <-chan models.StatusChange) {
	for {
		select {
		case change := <-changes:
			switch change.Status {
			case models.CameraOnline:
				if _, err := m.Ensure(change.CameraID); err != nil {
					log.Error().Err(err).Str("cameraId", change.CameraID).Msg("Failed to start recording pipeline")
				}
			case models.CameraOffline:
				m.stopPipeline(change.CameraID)
			}
		case <-ctx.Done():
			m.StopAll()
			return
		}
	}
}

// Pipeline returns the running pipeline for a camera
func (m *Manager) Pipeline(cameraID string) (*Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[cameraID]
	return p, ok
}

// Status reports a camera's pipeline state
func (m *Manager) Status(cameraID string) (models.PipelineStatus, error) {
	m.mu.Lock()
	p, ok := m.pipelines[cameraID]
	m.mu.Unlock()
	if !ok {
		return models.PipelineStatus{CameraID: cameraID}, models.ErrCameraOffline
	}
	return p.Status(), nil
}

// StopAll stops every running pipeline
func (m *Manager) StopAll() {
	m.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		pipelines = append(pipelines, p)
	}
	m.pipelines = make(map[string]*Pipeline)
	m.mu.Unlock()
	for _, p := range pipelines {
		p.Stop()
	}
}

// Ensure returns the camera's running pipeline, starting one if needed. The
// ingest path calls this so a stream arriving before the status change has
// been consumed still lands in a pipeline.
func (m *Manager) Ensure(cameraID string) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pipelines[cameraID]; ok {
		return p, nil
	}
	p := NewPipeline(cameraID, m.baseDir, m.segDur, m.store, m.events)
	if err := p.Start(); err != nil {
		m.events.Append(cameraID, models.EventCameraError, fmt.Sprintf("pipeline start failed: %v", err))
		return nil, err
	}
	m.pipelines[cameraID] = p
	return p, nil
}

func (m *Manager) stopPipeline(cameraID string) {
	m.mu.Lock()
	p, ok := m.pipelines[cameraID]
	delete(m.pipelines, cameraID)
	m.mu.Unlock()
	if ok {
		p.Stop()
	}
}

// FinalizeOrphans closes segments left open by an unclean shutdown. The end
// time comes from the segment file's mtime; the sidecar is rewritten so the
// playback reader sees a bounded segment.
func (m *Manager) FinalizeOrphans(ctx context.Context) error {
	orphans, err := m.store.OpenSegments(ctx)
	if err != nil {
		return err
	}
	for _, seg := range orphans {
		end := seg.StartTime
		size := seg.ByteSize
		if info, err := os.Stat(seg.FilePath); err == nil {
			end = info.ModTime()
			size = info.Size()
		}
		if err := m.store.CloseSegment(ctx, seg.CameraID, seg.SegmentID, end, size); err != nil {
			log.Error().Err(err).Str("cameraId", seg.CameraID).Int64("segmentId", seg.SegmentID).Msg("Failed to finalize orphaned segment")
			continue
		}
		seg.EndTime = end
		seg.ByteSize = size
		seg.State = models.SegmentClosed
		writeSidecar(&seg)
		m.events.Append(seg.CameraID, models.EventRecordingStop,
			fmt.Sprintf("orphaned segment %d finalized at startup", seg.SegmentID))
		log.Warn().Str("cameraId", seg.CameraID).Int64("segmentId", seg.SegmentID).Msg("Finalized orphaned open segment")
	}
	return nil
}

// ReadSidecar loads a segment's sidecar metadata
func ReadSidecar(path string) (*models.RecordingSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seg models.RecordingSegment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, err
	}
	return &seg, nil
}
