// Package store persists camera, segment and event metadata
package store

import (
	"context"
	"time"

	"github.com/vtpl1/camrelay/models"
)

// EventFilter narrows an event log query
type EventFilter struct {
	CameraID string
	Kind     models.EventKind
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Store is the metadata persistence surface shared by the registry, the
// recording pipelines and the retention sweeper. Segment state transitions are
// compare-and-set on the current state so the pipeline (Open->Closed) and the
// sweeper (Closed->Deleted) never race each other.
type Store interface {
	UpsertCamera(ctx context.Context, cam *models.Camera) error
	CameraByID(ctx context.Context, id string) (*models.Camera, error)
	CameraByAgentName(ctx context.Context, agentName string) (*models.Camera, error)
	Cameras(ctx context.Context, includeTombstoned bool) ([]models.Camera, error)

	InsertSegment(ctx context.Context, seg *models.RecordingSegment) error
	CloseSegment(ctx context.Context, cameraID string, segmentID int64, end time.Time, byteSize int64) error
	MarkSegmentDeleted(ctx context.Context, cameraID string, segmentID int64) error
	OpenSegments(ctx context.Context) ([]models.RecordingSegment, error)
	SegmentsByCamera(ctx context.Context, cameraID string, from, to time.Time) ([]models.RecordingSegment, error)
	ClosedSegmentsOlderThan(ctx context.Context, cutoff time.Time) ([]models.RecordingSegment, error)
	OldestClosedSegments(ctx context.Context, limit int) ([]models.RecordingSegment, error)
	NextSegmentID(ctx context.Context, cameraID string) (int64, error)

	AppendEvent(ctx context.Context, entry *models.EventLogEntry) error
	Events(ctx context.Context, filter EventFilter) ([]models.EventLogEntry, error)
	PruneEvents(ctx context.Context, olderThan time.Time) (int, error)
}
