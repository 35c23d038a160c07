// Package registry is the server-side directory of cameras and live sessions
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/eventlog"
	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

// Registry owns the camera table and the live session table. All mutations go
// through its method set under one lock; callers never touch the tables
// directly.
type Registry struct {
	mu           sync.Mutex
	store        store.Store
	events       *eventlog.Log
	sharedSecret string
	timeout      time.Duration

	sessions        map[string]*models.RegistrationSession // session id -> session
	sessionByCamera map[string]string                      // camera id -> session id

	changes chan models.StatusChange
	stop    chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

// Config carries the registry's tunables
type Config struct {
	SharedSecret      string
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
}

// New creates a registry. The liveness timeout is three missed heartbeats.
func New(s store.Store, events *eventlog.Log, cfg Config) *Registry {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return &Registry{
		store:           s,
		events:          events,
		sharedSecret:    cfg.SharedSecret,
		timeout:         3 * cfg.HeartbeatInterval,
		sessions:        make(map[string]*models.RegistrationSession),
		sessionByCamera: make(map[string]string),
		changes:         make(chan models.StatusChange, 64),
		stop:            make(chan struct{}),
		now:             time.Now,
	}
}

// Changes delivers camera liveness transitions to the pipeline manager
func (r *Registry) Changes() <-chan models.StatusChange {
	return r.changes
}

// Register validates the shared secret and binds the agent to its camera
// record, creating the record on first contact. Re-registration of a known
// agent reuses the camera id and replaces any previous session.
func (r *Registry) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	if req.SharedSecret != r.sharedSecret {
		log.Warn().Str("agentName", req.AgentName).Msg("Registration rejected: bad shared secret")
		return nil, models.ErrAuthRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cam, err := r.lookupCamera(ctx, req)
	if errors.Is(err, store.ErrCameraNotFound) {
		cam = &models.Camera{
			ID:        uuid.NewString(),
			Name:      req.AgentName,
			AgentName: req.AgentName,
			Model:     req.Model,
			CreatedAt: now,
		}
	} else if err != nil {
		return nil, err
	}

	cam.AgentAddress = req.AgentAddress
	cam.Status = models.CameraOnline
	cam.LastHeartbeatAt = now
	cam.Tombstoned = false
	if req.Model != "" {
		cam.Model = req.Model
	}
	if err := r.store.UpsertCamera(ctx, cam); err != nil {
		return nil, err
	}

	if old, ok := r.sessionByCamera[cam.ID]; ok {
		delete(r.sessions, old)
	}
	session := &models.RegistrationSession{
		ID:           uuid.NewString(),
		CameraID:     cam.ID,
		AgentAddress: req.AgentAddress,
		ConnectedAt:  now,
		LastSeenAt:   now,
	}
	r.sessions[session.ID] = session
	r.sessionByCamera[cam.ID] = session.ID

	r.events.Append(cam.ID, models.EventRegistered, fmt.Sprintf("agent %s registered from %s", req.AgentName, req.AgentAddress))
	r.notify(cam.ID, models.CameraOnline)
	log.Info().Str("cameraId", cam.ID).Str("agentName", req.AgentName).Str("agentAddress", req.AgentAddress).Msg("Camera registered")

	return &models.RegisterResponse{CameraID: cam.ID, SessionID: session.ID}, nil
}

func (r *Registry) lookupCamera(ctx context.Context, req models.RegisterRequest) (*models.Camera, error) {
	if req.CameraID != "" {
		cam, err := r.store.CameraByID(ctx, req.CameraID)
		if err == nil {
			return cam, nil
		}
		if !errors.Is(err, store.ErrCameraNotFound) {
			return nil, err
		}
	}
	return r.store.CameraByAgentName(ctx, req.AgentName)
}

// Heartbeat refreshes a session's last-seen time
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return models.ErrUnknownSession
	}
	now := r.now()
	session.LastSeenAt = now

	cam, err := r.store.CameraByID(ctx, session.CameraID)
	if err != nil {
		return err
	}
	cam.LastHeartbeatAt = now
	cam.Status = models.CameraOnline
	return r.store.UpsertCamera(ctx, cam)
}

// Session returns the live session for a session id
func (r *Registry) Session(sessionID string) (*models.RegistrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, models.ErrUnknownSession
	}
	s := *session
	return &s, nil
}

// SessionByCamera returns the live session for a camera, if any
func (r *Registry) SessionByCamera(cameraID string) (*models.RegistrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.sessionByCamera[cameraID]
	if !ok {
		return nil, models.ErrCameraOffline
	}
	s := *r.sessions[id]
	return &s, nil
}

// Camera returns one camera record
func (r *Registry) Camera(ctx context.Context, cameraID string) (*models.Camera, error) {
	cam, err := r.store.CameraByID(ctx, cameraID)
	if errors.Is(err, store.ErrCameraNotFound) {
		return nil, models.ErrCameraNotFound
	}
	if err != nil {
		return nil, err
	}
	if cam.Tombstoned {
		return nil, models.ErrCameraNotFound
	}
	return cam, nil
}

// Cameras lists all non-tombstoned cameras
func (r *Registry) Cameras(ctx context.Context) ([]models.Camera, error) {
	return r.store.Cameras(ctx, false)
}

// Rename updates a camera's display name
func (r *Registry) Rename(ctx context.Context, cameraID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, err := r.store.CameraByID(ctx, cameraID)
	if err != nil {
		return models.ErrCameraNotFound
	}
	cam.Name = name
	return r.store.UpsertCamera(ctx, cam)
}

// Remove tombstones a camera so historical segments and events stay
// attributable, and drops its live session.
func (r *Registry) Remove(ctx context.Context, cameraID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, err := r.store.CameraByID(ctx, cameraID)
	if err != nil {
		return models.ErrCameraNotFound
	}
	cam.Tombstoned = true
	cam.Status = models.CameraOffline
	if err := r.store.UpsertCamera(ctx, cam); err != nil {
		return err
	}
	if id, ok := r.sessionByCamera[cameraID]; ok {
		delete(r.sessions, id)
		delete(r.sessionByCamera, cameraID)
	}
	r.notify(cameraID, models.CameraOffline)
	log.Info().Str("cameraId", cameraID).Msg("Camera removed (tombstoned)")
	return nil
}

// Start launches the liveness sweep loop
func (r *Registry) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// sweep reaps sessions whose last heartbeat is older than the liveness timeout
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for id, session := range r.sessions {
		if now.Sub(session.LastSeenAt) <= r.timeout {
			continue
		}
		delete(r.sessions, id)
		delete(r.sessionByCamera, session.CameraID)

		cam, err := r.store.CameraByID(ctx, session.CameraID)
		if err == nil {
			cam.Status = models.CameraOffline
			if err := r.store.UpsertCamera(ctx, cam); err != nil {
				log.Error().Err(err).Str("cameraId", session.CameraID).Msg("Failed to mark camera offline")
			}
		}
		r.events.Append(session.CameraID, models.EventHeartbeatTimeout,
			fmt.Sprintf("no heartbeat since %s", session.LastSeenAt.Format(time.RFC3339)))
		r.notify(session.CameraID, models.CameraOffline)
		log.Warn().Str("cameraId", session.CameraID).Time("lastSeen", session.LastSeenAt).Msg("Session reaped, camera offline")
	}
}

// Sweep runs one liveness pass immediately
func (r *Registry) Sweep() {
	r.sweep()
}

func (r *Registry) notify(cameraID string, status models.CameraStatus) {
	select {
	case r.changes <- models.StatusChange{CameraID: cameraID, Status: status}:
	default:
		log.Warn().Str("cameraId", cameraID).Msg("Status change channel full, notification dropped")
	}
}
