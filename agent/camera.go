// Package agent implements the edge relay between one camera and the server
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
)

const (
	cameraConnectTimeout = 10 * time.Second
	backoffInitial       = 1 * time.Second
	backoffCap           = 30 * time.Second
)

// CameraConfig locates the camera's MJPEG preview stream
type CameraConfig struct {
	Addr    string // host:port of the camera's HTTP interface
	User    string
	Pass    string
	Channel string // sub-stream selection, 101 main / 102 sub
}

// streamURL builds the camera's MJPEG preview endpoint
func (c CameraConfig) streamURL() string {
	return fmt.Sprintf("http://%s/ISAPI/Streaming/channels/%s/httpPreview", c.Addr, c.Channel)
}

// CameraSource pulls the camera's MJPEG stream and fans frames out to the
// relay and the motion detector. Camera failures are local: the source
// retries with exponential backoff forever and never takes the rest of the
// agent down.
type CameraSource struct {
	cfg    CameraConfig
	logger zerolog.Logger
	client *http.Client

	// OnError reports connection failures for event logging once the server
	// is reachable.
	OnError func(err error)

	mu         sync.Mutex
	lastFrame  []byte
	frameCount int64
	fps        float64
	fpsTime    time.Time
	connected  bool

	frames chan []byte
}

// NewCameraSource creates a source for one camera. The client bounds the
// connect and header phases only; the response body streams indefinitely.
func NewCameraSource(cfg CameraConfig) *CameraSource {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: cameraConnectTimeout}).DialContext,
		ResponseHeaderTimeout: cameraConnectTimeout,
	}
	return &CameraSource{
		cfg:    cfg,
		logger: log.With().Str("cameraAddr", cfg.Addr).Logger(),
		client: &http.Client{Transport: transport},
		frames: make(chan []byte, 8),
	}
}

// Frames delivers every captured frame to the relay; the oldest frame is
// dropped when the relay falls behind.
func (s *CameraSource) Frames() <-chan []byte {
	return s.frames
}

// LastFrame returns the most recent frame, for the detector and snapshots
func (s *CameraSource) LastFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// Connected reports whether the stream is currently up
func (s *CameraSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// FPS returns the measured capture rate
func (s *CameraSource) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// Run pulls the stream until the context is cancelled, reconnecting with
// backoff on any failure.
func (s *CameraSource) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		err := s.stream(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Dur("retryIn", backoff).Msg("Camera stream lost, reconnecting")
		if s.OnError != nil {
			s.OnError(err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func (s *CameraSource) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.streamURL(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.cfg.User, s.cfg.Pass)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCameraUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return models.ErrCameraAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: camera returned %s", models.ErrCameraUnreachable, resp.Status)
	}

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return fmt.Errorf("%w: unexpected content type %q", models.ErrCameraUnreachable, resp.Header.Get("Content-Type"))
	}

	s.setConnected(true)
	s.logger.Info().Str("channel", s.cfg.Channel).Msg("Camera stream connected")

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: stream ended", models.ErrCameraUnreachable)
			}
			return fmt.Errorf("%w: %v", models.ErrCameraUnreachable, err)
		}
		frame, err := io.ReadAll(part)
		part.Close() //nolint:errcheck
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrCameraUnreachable, err)
		}
		s.publish(frame)
	}
}

func (s *CameraSource) publish(frame []byte) {
	s.mu.Lock()
	s.lastFrame = frame
	s.frameCount++
	now := time.Now()
	if s.fpsTime.IsZero() {
		s.fpsTime = now
	} else if elapsed := now.Sub(s.fpsTime); elapsed >= 5*time.Second {
		s.fps = float64(s.frameCount) / elapsed.Seconds()
		s.frameCount = 0
		s.fpsTime = now
	}
	s.mu.Unlock()

	for {
		select {
		case s.frames <- frame:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

func (s *CameraSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
