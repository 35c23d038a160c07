// Package api exposes the server's HTTP and websocket surface
package api

import (
	"crypto/subtle"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/vtpl1/camrelay/eventlog"
	"github.com/vtpl1/camrelay/recorder"
	"github.com/vtpl1/camrelay/registry"
	"github.com/vtpl1/camrelay/store"
)

// HeaderRelaySecret carries the shared secret on agent-originated requests
// that are not session-bound.
const HeaderRelaySecret = "X-Relay-Secret"

// Server wires the registry, pipeline manager and event log into fiber routes
type Server struct {
	registry     *registry.Registry
	manager      *recorder.Manager
	events       *eventlog.Log
	store        store.Store
	zoom         *ZoomRelay
	sharedSecret string
}

// NewServer creates the route handler set
func NewServer(reg *registry.Registry, mgr *recorder.Manager, events *eventlog.Log, st store.Store, sharedSecret string) *Server {
	return &Server{
		registry:     reg,
		manager:      mgr,
		events:       events,
		store:        st,
		zoom:         NewZoomRelay(reg, sharedSecret),
		sharedSecret: sharedSecret,
	}
}

// RegisterRoutes attaches all handlers to the app
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Post("/api/register", s.handleRegister)
	app.Post("/api/heartbeat", s.handleHeartbeat)
	app.Post("/api/events", s.handleEventPush)
	app.Get("/api/events", s.handleEventsQuery)

	app.Get("/api/cameras", s.handleCameras)
	app.Put("/api/cameras/:cameraId", s.handleRenameCamera)
	app.Delete("/api/cameras/:cameraId", s.handleRemoveCamera)
	app.Get("/api/cameras/:cameraId/status", s.handlePipelineStatus)
	app.Get("/api/cameras/:cameraId/recordings", s.handleRecordings)
	app.Get("/api/cameras/:cameraId/recordings/:name", s.handleRecordingFile)
	app.Post("/api/cameras/:cameraId/zoom", s.handleZoom)

	app.Use("/ingest/:sessionId", upgradeRequired)
	app.Get("/ingest/:sessionId", websocket.New(s.handleIngest))
	app.Use("/live/:cameraId", upgradeRequired)
	app.Get("/live/:cameraId", websocket.New(s.handleLive))
}

func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) secretOK(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.sharedSecret)) == 1
}
