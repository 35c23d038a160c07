package store

// Description: Define error types for store package.

import "errors"

var (
	ErrCameraNotFound       = errors.New("camera not found in store")
	ErrSegmentNotFound      = errors.New("segment not found in store")
	ErrSegmentStateConflict = errors.New("segment is not in the required state")
)
