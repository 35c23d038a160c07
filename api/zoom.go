package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/registry"
)

const zoomAckTimeout = 5 * time.Second

// ZoomRelay routes operator zoom commands to the agent holding the camera's
// live session. Stateless and without retry: zoom is interactive, the caller
// retries if it wants to.
type ZoomRelay struct {
	registry *registry.Registry
	client   *resty.Client
	secret   string
}

// NewZoomRelay creates the relay
func NewZoomRelay(reg *registry.Registry, sharedSecret string) *ZoomRelay {
	return &ZoomRelay{
		registry: reg,
		client:   resty.New().SetTimeout(zoomAckTimeout),
		secret:   sharedSecret,
	}
}

// Forward delivers a zoom command to the camera's agent and returns the
// agent's acknowledgement. No network call is made when the camera has no
// live session.
func (z *ZoomRelay) Forward(ctx context.Context, cameraID string, req models.ZoomRequest) (*models.ZoomResponse, error) {
	session, err := z.registry.SessionByCamera(cameraID)
	if err != nil {
		return nil, models.ErrCameraOffline
	}

	var resp models.ZoomResponse
	r, err := z.client.R().
		SetContext(ctx).
		SetHeader(HeaderRelaySecret, z.secret).
		SetBody(req).
		SetResult(&resp).
		Post(fmt.Sprintf("http://%s/zoom", session.AgentAddress))
	if err != nil {
		log.Warn().Err(err).Str("cameraId", cameraID).Str("agentAddress", session.AgentAddress).Msg("Zoom forward failed")
		return nil, models.ErrAgentUnreachable
	}
	if r.IsError() {
		return nil, fmt.Errorf("%w: agent returned %s", models.ErrAgentUnreachable, r.Status())
	}
	return &resp, nil
}

func (s *Server) handleZoom(c *fiber.Ctx) error {
	cameraID := c.Params("cameraId")
	var req models.ZoomRequest
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid zoom body")
	}

	resp, err := s.zoom.Forward(c.Context(), cameraID, req)
	if errors.Is(err, models.ErrCameraOffline) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	if errors.Is(err, models.ErrAgentUnreachable) {
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "zoom failed"})
	}
	return c.JSON(resp)
}
