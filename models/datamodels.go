// Package models contains all the data models
package models

import "time"

// CameraStatus is the liveness state of a camera
type CameraStatus string

const (
	// CameraOnline means the camera's relay agent has a live session
	CameraOnline CameraStatus = "online"
	// CameraOffline means the camera's session timed out or was closed
	CameraOffline CameraStatus = "offline"
	// CameraUnknown means the camera has never completed a registration
	CameraUnknown CameraStatus = "unknown"
)

// SegmentState is the lifecycle state of a recording segment
type SegmentState string

const (
	// SegmentOpen means the segment file is being written
	SegmentOpen SegmentState = "open"
	// SegmentClosed means the segment was finalized and has an end time
	SegmentClosed SegmentState = "closed"
	// SegmentDeleted means the retention sweeper removed the file
	SegmentDeleted SegmentState = "deleted"
)

// Camera represents a physical camera reached through its relay agent
type Camera struct {
	ID              string       `json:"cameraId" bson:"cameraId"`
	Name            string       `json:"name" bson:"name"`
	AgentName       string       `json:"agentName" bson:"agentName"`
	AgentAddress    string       `json:"agentAddress" bson:"agentAddress"`
	CredentialsRef  string       `json:"-" bson:"credentialsRef,omitempty"`
	Model           string       `json:"model,omitempty" bson:"model,omitempty"`
	Status          CameraStatus `json:"status" bson:"status"`
	LastHeartbeatAt time.Time    `json:"lastHeartbeatAt" bson:"lastHeartbeatAt"`
	Tombstoned      bool         `json:"tombstoned,omitempty" bson:"tombstoned,omitempty"`
	CreatedAt       time.Time    `json:"createdAt" bson:"createdAt"`
}

// RegistrationSession is the live binding between an agent process and a camera
type RegistrationSession struct {
	ID           string    `json:"sessionId" bson:"sessionId"`
	CameraID     string    `json:"cameraId" bson:"cameraId"`
	AgentAddress string    `json:"agentAddress" bson:"agentAddress"`
	ConnectedAt  time.Time `json:"connectedAt" bson:"connectedAt"`
	LastSeenAt   time.Time `json:"lastSeenAt" bson:"lastSeenAt"`
}

// RecordingSegment represents one bounded-duration unit of recorded video
type RecordingSegment struct {
	CameraID  string       `json:"cameraId" bson:"cameraId"`
	SegmentID int64        `json:"segmentId" bson:"segmentId"`
	StartTime time.Time    `json:"startTime" bson:"startTime"`
	EndTime   time.Time    `json:"endTime,omitempty" bson:"endTime,omitempty"`
	FilePath  string       `json:"filePath" bson:"filePath"`
	ByteSize  int64        `json:"byteSize" bson:"byteSize"`
	State     SegmentState `json:"state" bson:"state"`
}

// MotionEvent represents a motion interval detected at the edge
type MotionEvent struct {
	CameraID  string    `json:"cameraId" bson:"cameraId"`
	EventID   string    `json:"eventId" bson:"eventId"`
	StartedAt time.Time `json:"startedAt" bson:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
	PeakScore float64   `json:"peakScore" bson:"peakScore"`
}

// EventKind classifies an event log entry
type EventKind string

const (
	EventRegistered       EventKind = "registered"
	EventHeartbeatTimeout EventKind = "heartbeat_timeout"
	EventMotionStart      EventKind = "motion_start"
	EventMotionEnd        EventKind = "motion_end"
	EventRecordingStart   EventKind = "recording_start"
	EventRecordingStop    EventKind = "recording_stop"
	EventCameraError      EventKind = "camera_error"
	EventAgentError       EventKind = "agent_error"
	EventRetentionDelete  EventKind = "retention_delete"
	EventDiskPressure     EventKind = "disk_pressure"
	EventStuckSegment     EventKind = "stuck_segment"
)

// EventLogEntry is an immutable record of a lifecycle, motion or error condition
type EventLogEntry struct {
	ID        string    `json:"eventId" bson:"eventId"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	CameraID  string    `json:"cameraId,omitempty" bson:"cameraId,omitempty"`
	Kind      EventKind `json:"kind" bson:"kind"`
	Detail    string    `json:"detail,omitempty" bson:"detail,omitempty"`
}

// ZoomAction is an operator zoom request type
type ZoomAction string

const (
	ZoomIn     ZoomAction = "zoomIn"
	ZoomOut    ZoomAction = "zoomOut"
	ZoomStop   ZoomAction = "stop"
	GotoPreset ZoomAction = "gotoPreset"
)

// ZoomCommand is a transient zoom request routed to a camera's agent
type ZoomCommand struct {
	CameraID string     `json:"cameraId"`
	Action   ZoomAction `json:"action"`
	Preset   int        `json:"preset,omitempty"`
	IssuedAt time.Time  `json:"issuedAt"`
}

// StatusChange notifies pipeline management of a camera liveness transition
type StatusChange struct {
	CameraID string
	Status   CameraStatus
}
