// Package recorder persists relayed camera streams into rotating segment files
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/eventlog"
	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

const (
	segmentFilePrefix = "seg_"
	segmentFileExt    = ".mjpeg"
	sidecarExt        = ".json"
	timestampLayout   = "20060102_150405"
	ingestBufferSize  = 256
)

// Pipeline is the single writer for one camera's segment files. Chunks arrive
// from the ingest channel; a segment opens on the first chunk after start or
// after an interruption and closes on the wall-clock rotation boundary, on
// relay interruption and on stop.
type Pipeline struct {
	cameraID string
	dir      string
	segDur   time.Duration
	store    store.Store
	events   *eventlog.Log
	logger   zerolog.Logger

	chunks  chan []byte
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	fanout *Fanout

	mu        sync.Mutex
	cur       *segmentWriter
	startedAt time.Time
	now       func() time.Time
}

type segmentWriter struct {
	meta models.RecordingSegment
	file *os.File
}

// NewPipeline creates a pipeline for one camera. baseDir is the recordings
// root; the pipeline owns baseDir/<cameraID>.
func NewPipeline(cameraID, baseDir string, segDur time.Duration, s store.Store, events *eventlog.Log) *Pipeline {
	return &Pipeline{
		cameraID: cameraID,
		dir:      filepath.Join(baseDir, cameraID),
		segDur:   segDur,
		store:    s,
		events:   events,
		logger:   log.With().Str("cameraId", cameraID).Logger(),
		chunks:   make(chan []byte, ingestBufferSize),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		fanout:   NewFanout(),
		now:      time.Now,
	}
}

// Start launches the write loop
func (p *Pipeline) Start() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create camera directory: %w", err)
	}
	p.mu.Lock()
	p.startedAt = p.now()
	p.mu.Unlock()
	go p.run()
	p.logger.Info().Str("dir", p.dir).Msg("Recording pipeline started")
	return nil
}

// Ingest hands a stream chunk to the pipeline. It never blocks the caller:
// when the buffer is full the oldest pending chunk is discarded.
func (p *Pipeline) Ingest(chunk []byte) {
	p.fanout.Publish(chunk)
	for {
		select {
		case p.chunks <- chunk:
			return
		default:
		}
		select {
		case <-p.chunks:
			p.logger.Warn().Msg("Ingest buffer full, dropped oldest chunk")
		default:
		}
	}
}

// Subscribe attaches a live viewer to this camera's stream
func (p *Pipeline) Subscribe() *Subscriber {
	return p.fanout.Subscribe()
}

// Interrupt closes the current segment without stopping the pipeline. The next
// chunk opens a fresh segment, so playback sees a gap instead of a segment
// spanning the outage.
func (p *Pipeline) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCurrentLocked("relay interrupted")
}

// Stop finalizes the current segment and terminates the write loop
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		close(p.stop)
	})
	<-p.stopped
}

// Status reports the pipeline's current segment and write counters
func (p *Pipeline) Status() models.PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := models.PipelineStatus{
		CameraID: p.cameraID,
		Uptime:   p.now().Sub(p.startedAt),
	}
	if p.cur != nil {
		st.Recording = true
		st.SegmentID = p.cur.meta.SegmentID
		st.SegmentStarted = p.cur.meta.StartTime
		st.BytesWritten = p.cur.meta.ByteSize
	}
	return st
}

func (p *Pipeline) run() {
	defer close(p.stopped)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case chunk := <-p.chunks:
			p.write(chunk)
		case <-ticker.C:
			p.rotateIfDue()
		case <-p.stop:
			p.mu.Lock()
			p.closeCurrentLocked("pipeline stopped")
			p.mu.Unlock()
			p.fanout.Close()
			p.logger.Info().Msg("Recording pipeline stopped")
			return
		}
	}
}

func (p *Pipeline) write(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		if err := p.openSegmentLocked(); err != nil {
			p.logger.Error().Err(err).Msg("Failed to open segment")
			p.events.Append(p.cameraID, models.EventCameraError, fmt.Sprintf("segment open failed: %v", err))
			return
		}
	}
	n, err := p.cur.file.Write(chunk)
	p.cur.meta.ByteSize += int64(n)
	if err != nil {
		p.logger.Error().Err(err).Msg("Segment write failed")
		p.events.Append(p.cameraID, models.EventCameraError, fmt.Sprintf("%v: %v", models.ErrSegmentWriteFailed, err))
		p.closeCurrentLocked("write failure")
	}
}

// rotateIfDue closes the current segment once the wall clock crosses the next
// rotation boundary. Rotation is aligned to segDur multiples so segments from
// different cameras share boundaries.
func (p *Pipeline) rotateIfDue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return
	}
	boundary := p.cur.meta.StartTime.Truncate(p.segDur).Add(p.segDur)
	if p.now().Before(boundary) {
		return
	}
	p.closeCurrentLocked("rotation")
	if err := p.openSegmentLocked(); err != nil {
		p.logger.Error().Err(err).Msg("Failed to open segment after rotation")
	}
}

func (p *Pipeline) openSegmentLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := p.store.NextSegmentID(ctx, p.cameraID)
	if err != nil {
		return fmt.Errorf("allocate segment id: %w", err)
	}
	start := p.now()
	name := segmentFilePrefix + start.UTC().Format(timestampLayout) + segmentFileExt
	path := filepath.Join(p.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSegmentWriteFailed, err)
	}
	seg := models.RecordingSegment{
		CameraID:  p.cameraID,
		SegmentID: id,
		StartTime: start,
		FilePath:  path,
		State:     models.SegmentOpen,
	}
	if err := p.store.InsertSegment(ctx, &seg); err != nil {
		file.Close() //nolint:errcheck
		return fmt.Errorf("record segment: %w", err)
	}
	p.cur = &segmentWriter{meta: seg, file: file}
	writeSidecar(&seg)
	if id == 1 {
		p.events.Append(p.cameraID, models.EventRecordingStart, "recording started")
	}
	p.logger.Debug().Int64("segmentId", id).Str("file", name).Msg("Segment opened")
	return nil
}

func (p *Pipeline) closeCurrentLocked(reason string) {
	if p.cur == nil {
		return
	}
	cur := p.cur
	p.cur = nil
	end := p.now()
	if err := cur.file.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Segment file close failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.CloseSegment(ctx, p.cameraID, cur.meta.SegmentID, end, cur.meta.ByteSize); err != nil {
		p.logger.Error().Err(err).Int64("segmentId", cur.meta.SegmentID).Msg("Failed to close segment record")
	}
	cur.meta.EndTime = end
	cur.meta.State = models.SegmentClosed
	writeSidecar(&cur.meta)
	if reason != "rotation" {
		p.events.Append(p.cameraID, models.EventRecordingStop, reason)
	}
	p.logger.Debug().Int64("segmentId", cur.meta.SegmentID).Str("reason", reason).Int64("bytes", cur.meta.ByteSize).Msg("Segment closed")
}

// writeSidecar records segment boundaries next to the video file for the
// playback reader.
func writeSidecar(seg *models.RecordingSegment) {
	data, err := json.MarshalIndent(seg, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal segment sidecar")
		return
	}
	if err := os.WriteFile(seg.FilePath+sidecarExt, data, 0o644); err != nil {
		log.Error().Err(err).Str("file", seg.FilePath).Msg("Failed to write segment sidecar")
	}
}
