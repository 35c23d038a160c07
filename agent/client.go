package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
)

const (
	requestTimeout    = 5 * time.Second
	registerTimeout   = 10 * time.Second
	eventQueueSize    = 1000
	eventFlushPeriod  = 5 * time.Second
	relaySecretHeader = "X-Relay-Secret"
)

// ServerClient talks to the central server: registration, heartbeats and
// event push. Events survive server outages in a bounded local queue that
// drops its oldest entry on overflow and is flushed in order on reconnect.
type ServerClient struct {
	serverURL    string
	agentName    string
	agentAddress string
	sharedSecret string
	model        string
	client       *resty.Client

	mu        sync.Mutex
	cameraID  string
	sessionID string

	queue []models.EventPush
}

// NewServerClient creates a client for the given server
func NewServerClient(serverURL, agentName, agentAddress, sharedSecret, model string) *ServerClient {
	return &ServerClient{
		serverURL:    serverURL,
		agentName:    agentName,
		agentAddress: agentAddress,
		sharedSecret: sharedSecret,
		model:        model,
		client:       resty.New().SetBaseURL(serverURL).SetTimeout(requestTimeout),
	}
}

// SessionID returns the current registration session id
func (c *ServerClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// CameraID returns the server-assigned camera id, once registered
func (c *ServerClient) CameraID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraID
}

// Register performs the registration handshake, retrying with backoff until
// the server accepts. A shared-secret rejection is fatal: retrying with the
// same credentials cannot succeed.
func (c *ServerClient) Register(ctx context.Context) error {
	backoff := backoffInitial
	for {
		err := c.registerOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == models.ErrAuthRejected {
			return err
		}
		log.Warn().Err(err).Dur("retryIn", backoff).Msg("Registration failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func (c *ServerClient) registerOnce(ctx context.Context) error {
	c.mu.Lock()
	req := models.RegisterRequest{
		CameraID:     c.cameraID,
		AgentName:    c.agentName,
		AgentAddress: c.agentAddress,
		SharedSecret: c.sharedSecret,
		Model:        c.model,
	}
	c.mu.Unlock()

	var resp models.RegisterResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetHeader("Content-Type", "application/json").
		Post("/api/register")
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	if r.StatusCode() == http.StatusUnauthorized {
		return models.ErrAuthRejected
	}
	if r.IsError() {
		return fmt.Errorf("registration rejected: %s", r.Status())
	}

	c.mu.Lock()
	c.cameraID = resp.CameraID
	c.sessionID = resp.SessionID
	c.mu.Unlock()
	log.Info().Str("cameraId", resp.CameraID).Str("sessionId", resp.SessionID).Msg("Registered with server")
	return nil
}

// RunHeartbeats sends heartbeats at the configured interval until the context
// is cancelled, re-registering when the server has reaped the session.
func (c *ServerClient) RunHeartbeats(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	flush := time.NewTicker(eventFlushPeriod)
	defer flush.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.heartbeat(ctx); err != nil {
				if err == models.ErrUnknownSession {
					log.Warn().Msg("Session reaped by server, re-registering")
					if regErr := c.Register(ctx); regErr == models.ErrAuthRejected {
						return regErr
					}
					continue
				}
				log.Warn().Err(err).Msg("Heartbeat failed")
			}
		case <-flush.C:
			c.flushEvents(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *ServerClient) heartbeat(ctx context.Context) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return models.ErrUnknownSession
	}
	r, err := c.client.R().
		SetContext(ctx).
		SetBody(models.HeartbeatRequest{SessionID: sessionID}).
		Post("/api/heartbeat")
	if err != nil {
		return err
	}
	if r.StatusCode() == http.StatusGone {
		return models.ErrUnknownSession
	}
	if r.IsError() {
		return fmt.Errorf("heartbeat rejected: %s", r.Status())
	}
	return nil
}

// PushEvent queues an event and attempts an immediate flush. The queue is
// bounded; the oldest event is dropped on overflow.
func (c *ServerClient) PushEvent(kind models.EventKind, detail string, ts time.Time) {
	c.mu.Lock()
	c.queue = append(c.queue, models.EventPush{
		AgentName: c.agentName,
		Kind:      kind,
		Timestamp: ts,
		Detail:    detail,
	})
	if len(c.queue) > eventQueueSize {
		dropped := len(c.queue) - eventQueueSize
		c.queue = c.queue[dropped:]
		log.Warn().Int("dropped", dropped).Msg("Event queue overflow, oldest events dropped")
	}
	c.mu.Unlock()
	c.flushEvents(context.Background())
}

// QueuedEvents returns the number of events awaiting delivery
func (c *ServerClient) QueuedEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// flushEvents delivers queued events in order, stopping at the first failure
// so ordering is preserved for the next attempt.
func (c *ServerClient) flushEvents(ctx context.Context) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.mu.Unlock()

		r, err := c.client.R().
			SetContext(ctx).
			SetHeader(relaySecretHeader, c.sharedSecret).
			SetBody(next).
			Post("/api/events")
		if err != nil || r.IsError() {
			return
		}

		c.mu.Lock()
		if len(c.queue) > 0 && c.queue[0].Timestamp.Equal(next.Timestamp) && c.queue[0].Kind == next.Kind {
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()
	}
}
