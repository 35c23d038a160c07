package agent

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
)

// localAPI is the agent's control surface: the server calls /zoom here, and
// /status and /snapshot serve the management UI through the server.
type localAPI struct {
	secret string
	camera *CameraSource
	zoom   *ZoomControl
	client *ServerClient
}

// RegisterLocalRoutes attaches the agent's endpoints to its fiber app
func (a *Agent) RegisterLocalRoutes(app *fiber.App) {
	api := &localAPI{
		secret: a.cfg.SharedSecret,
		camera: a.camera,
		zoom:   a.zoom,
		client: a.client,
	}
	app.Use(api.checkSecret)
	app.Post("/zoom", api.handleZoom)
	app.Get("/status", api.handleStatus)
	app.Get("/snapshot", api.handleSnapshot)
}

func (l *localAPI) checkSecret(c *fiber.Ctx) error {
	got := c.Get(relaySecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(l.secret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized")
	}
	return c.Next()
}

func (l *localAPI) handleZoom(c *fiber.Ctx) error {
	var req models.ZoomRequest
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid zoom body")
	}
	if err := l.zoom.Apply(c.Context(), req); err != nil {
		log.Warn().Err(err).Str("action", string(req.Action)).Msg("Zoom command failed")
		return c.Status(fiber.StatusBadGateway).JSON(models.ZoomResponse{Status: "error", Error: err.Error()})
	}
	return c.JSON(models.ZoomResponse{Status: "ok", Action: req.Action})
}

func (l *localAPI) handleStatus(c *fiber.Ctx) error {
	return c.JSON(models.AgentStatus{
		Online:          true,
		CameraConnected: l.camera.Connected(),
		FPS:             l.camera.FPS(),
		Timestamp:       time.Now(),
		QueuedEvents:    l.client.QueuedEvents(),
	})
}

func (l *localAPI) handleSnapshot(c *fiber.Ctx) error {
	frame := l.camera.LastFrame()
	if frame == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("No frame available")
	}
	c.Set("Content-Type", "image/jpeg")
	return c.Send(frame)
}
