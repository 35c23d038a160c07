package agent

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/motion"
)

const detectPeriod = 500 * time.Millisecond

// Config carries everything one relay session needs
type Config struct {
	ServerURL         string
	AgentName         string
	AgentAddress      string // advertised host:port of the local control API
	SharedSecret      string
	Camera            CameraConfig
	CameraModel       string
	HeartbeatInterval time.Duration
	Motion            motion.Config
	MotionDisabled    bool
}

// Agent composes the camera source, the motion detector, the stream relay
// and the server client into one durable relay session.
type Agent struct {
	cfg      Config
	camera   *CameraSource
	detector *motion.Detector
	client   *ServerClient
	relay    *StreamRelay
	zoom     *ZoomControl
}

// New assembles an agent from its config
func New(cfg Config) *Agent {
	if cfg.Motion.Threshold == 0 {
		cfg.Motion = motion.DefaultConfig()
	}
	camera := NewCameraSource(cfg.Camera)
	client := NewServerClient(cfg.ServerURL, cfg.AgentName, cfg.AgentAddress, cfg.SharedSecret, cfg.CameraModel)
	a := &Agent{
		cfg:      cfg,
		camera:   camera,
		client:   client,
		relay:    NewStreamRelay(cfg.ServerURL, client.SessionID, camera.Frames()),
		zoom:     NewZoomControl(cfg.Camera),
		detector: motion.NewDetector(cfg.AgentName, cfg.Motion),
	}
	camera.OnError = func(err error) {
		client.PushEvent(models.EventCameraError, err.Error(), time.Now())
	}
	a.detector.OnStart = func(ev models.MotionEvent) {
		client.PushEvent(models.EventMotionStart, fmt.Sprintf("motion started, score %.1f", ev.PeakScore), ev.StartedAt)
	}
	a.detector.OnEnd = func(ev models.MotionEvent) {
		client.PushEvent(models.EventMotionEnd, fmt.Sprintf("motion ended, peak %.1f", ev.PeakScore), ev.EndedAt)
	}
	return a
}

// Run starts every loop and blocks until the context is cancelled or the
// server permanently rejects the agent's credentials. Camera failures never
// propagate out of their loop.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.camera.Run(ctx)
	if !a.cfg.MotionDisabled {
		go a.detectLoop(ctx)
	}

	if err := a.client.Register(ctx); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	go a.relay.Run(ctx)

	// Blocks; only an auth rejection during re-registration ends it early.
	err := a.client.RunHeartbeats(ctx, a.cfg.HeartbeatInterval)
	if err != nil && err != ctx.Err() {
		return err
	}
	return nil
}

// detectLoop samples the latest frame a couple of times per second, the same
// cadence the motion detector needs. It runs whether or not the server is
// reachable; events queue locally in the client.
func (a *Agent) detectLoop(ctx context.Context) {
	ticker := time.NewTicker(detectPeriod)
	defer ticker.Stop()
	var lastSeen []byte
	for {
		select {
		case <-ticker.C:
			frame := a.camera.LastFrame()
			if len(frame) == 0 {
				continue
			}
			if len(lastSeen) > 0 && &frame[0] == &lastSeen[0] {
				continue
			}
			lastSeen = frame
			img, err := jpeg.Decode(bytes.NewReader(frame))
			if err != nil {
				log.Debug().Err(err).Msg("Skipping undecodable frame")
				continue
			}
			a.detector.ProcessFrame(img, time.Now())
		case <-ctx.Done():
			return
		}
	}
}
