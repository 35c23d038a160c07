package models

import "time"

// RegisterRequest is sent by an agent to register or re-register its camera
type RegisterRequest struct {
	CameraID     string `json:"cameraId,omitempty"`
	AgentName    string `json:"agentName"`
	AgentAddress string `json:"agentAddress"`
	SharedSecret string `json:"sharedSecret"`
	Model        string `json:"model,omitempty"`
}

// RegisterResponse returns the stable camera id and the new session id
type RegisterResponse struct {
	CameraID  string `json:"cameraId"`
	SessionID string `json:"sessionId"`
}

// HeartbeatRequest refreshes a registration session
type HeartbeatRequest struct {
	SessionID string `json:"sessionId"`
}

// HeartbeatResponse acknowledges a heartbeat
type HeartbeatResponse struct {
	Ack bool `json:"ack"`
}

// EventPush carries a motion or lifecycle event from an agent to the server
type EventPush struct {
	AgentName string    `json:"agentName"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// ZoomRequest is the body of an operator zoom call and of its relay to the agent
type ZoomRequest struct {
	Action ZoomAction `json:"action"`
	Preset int        `json:"preset,omitempty"`
	Speed  int        `json:"speed,omitempty"`
}

// ZoomResponse is the agent's acknowledgement of a zoom command
type ZoomResponse struct {
	Status string     `json:"status"`
	Action ZoomAction `json:"action,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// PipelineStatus reports a camera's recording pipeline state
type PipelineStatus struct {
	CameraID       string        `json:"cameraId"`
	Recording      bool          `json:"recording"`
	SegmentID      int64         `json:"segmentId"`
	SegmentStarted time.Time     `json:"segmentStarted,omitempty"`
	BytesWritten   int64         `json:"bytesWritten"`
	Uptime         time.Duration `json:"uptimeNs"`
}

// AgentStatus reports an agent's local health
type AgentStatus struct {
	Online          bool      `json:"online"`
	CameraConnected bool      `json:"cameraConnected"`
	FPS             float64   `json:"fps"`
	Timestamp       time.Time `json:"timestamp"`
	QueuedEvents    int       `json:"queuedEvents"`
}
