package models

// Description: Define the shared error taxonomy crossing package boundaries.

import "errors"

var (
	// ErrCameraUnreachable is returned when the camera refuses or times out a connection
	ErrCameraUnreachable = errors.New("camera unreachable")
	// ErrCameraAuthFailed is returned when the camera rejects the configured credentials
	ErrCameraAuthFailed = errors.New("camera rejected credentials")
	// ErrAuthRejected is returned when the server rejects an agent's shared secret
	ErrAuthRejected = errors.New("registration auth rejected")
	// ErrUnknownSession is returned for a heartbeat on a reaped session
	ErrUnknownSession = errors.New("unknown registration session")
	// ErrAgentUnreachable is returned when a zoom command cannot reach the agent in time
	ErrAgentUnreachable = errors.New("agent unreachable")
	// ErrCameraOffline is returned when a command targets a camera with no live session
	ErrCameraOffline = errors.New("camera offline")
	// ErrCameraNotFound is returned when a camera id is unknown or tombstoned
	ErrCameraNotFound = errors.New("camera not found")
	// ErrStorageFull is returned when free space is below the safety margin
	ErrStorageFull = errors.New("storage below safety margin")
	// ErrSegmentWriteFailed is returned when a segment write cannot complete
	ErrSegmentWriteFailed = errors.New("segment write failed")
)
