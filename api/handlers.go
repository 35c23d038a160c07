package api

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid registration body")
	}
	if req.AgentName == "" || req.AgentAddress == "" {
		return c.Status(fiber.StatusBadRequest).SendString("agentName and agentAddress required")
	}
	resp, err := s.registry.Register(c.Context(), req)
	if errors.Is(err, models.ErrAuthRejected) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		log.Error().Err(err).Str("agentName", req.AgentName).Msg("Registration failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "registration failed"})
	}
	return c.JSON(resp)
}

func (s *Server) handleHeartbeat(c *fiber.Ctx) error {
	var req models.HeartbeatRequest
	if err := c.BodyParser(&req); err != nil || req.SessionID == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid heartbeat body")
	}
	err := s.registry.Heartbeat(c.Context(), req.SessionID)
	if errors.Is(err, models.ErrUnknownSession) {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		log.Error().Err(err).Msg("Heartbeat failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "heartbeat failed"})
	}
	return c.JSON(models.HeartbeatResponse{Ack: true})
}

// handleEventPush receives motion and lifecycle events pushed by agents
func (s *Server) handleEventPush(c *fiber.Ctx) error {
	if !s.secretOK(c.Get(HeaderRelaySecret)) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": models.ErrAuthRejected.Error()})
	}
	var push models.EventPush
	if err := c.BodyParser(&push); err != nil || push.AgentName == "" || push.Kind == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid event body")
	}
	cam, err := s.store.CameraByAgentName(c.Context(), push.AgentName)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown camera"})
	}
	ts := push.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.events.AppendAt(ts, cam.ID, push.Kind, push.Detail)
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleEventsQuery(c *fiber.Ctx) error {
	filter := store.EventFilter{
		CameraID: c.Query("cameraId"),
		Kind:     models.EventKind(c.Query("kind")),
		Limit:    c.QueryInt("limit", 100),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid since")
		}
		filter.Since = t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid until")
		}
		filter.Until = t
	}
	entries, err := s.events.Query(c.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Error querying events")
		return c.Status(fiber.StatusInternalServerError).SendString("Error querying events")
	}
	if entries == nil {
		entries = []models.EventLogEntry{}
	}
	return c.JSON(entries)
}

func (s *Server) handleCameras(c *fiber.Ctx) error {
	cams, err := s.registry.Cameras(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error listing cameras")
		return c.Status(fiber.StatusInternalServerError).SendString("Error listing cameras")
	}
	if cams == nil {
		cams = []models.Camera{}
	}
	return c.JSON(cams)
}

func (s *Server) handleRenameCamera(c *fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&body); err != nil || body.Name == "" {
		return c.Status(fiber.StatusBadRequest).SendString("name required")
	}
	err := s.registry.Rename(c.Context(), c.Params("cameraId"), body.Name)
	if errors.Is(err, models.ErrCameraNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "rename failed"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleRemoveCamera(c *fiber.Ctx) error {
	err := s.registry.Remove(c.Context(), c.Params("cameraId"))
	if errors.Is(err, models.ErrCameraNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "remove failed"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handlePipelineStatus(c *fiber.Ctx) error {
	status, err := s.manager.Status(c.Params("cameraId"))
	if errors.Is(err, models.ErrCameraOffline) {
		return c.Status(fiber.StatusOK).JSON(status)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Error reading pipeline status")
	}
	return c.JSON(status)
}

func (s *Server) handleRecordings(c *fiber.Ctx) error {
	cameraID := c.Params("cameraId")
	logger := log.With().Str("cameraId", cameraID).Logger()

	var from, to time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid from")
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid to")
		}
		to = t
	}
	segs, err := s.store.SegmentsByCamera(c.Context(), cameraID, from, to)
	if err != nil {
		logger.Error().Err(err).Msg("Error querying recordings")
		return c.Status(fiber.StatusInternalServerError).SendString("Error querying recordings")
	}
	if segs == nil {
		segs = []models.RecordingSegment{}
	}
	logger.Info().Int("recording_count", len(segs)).Msg("Recordings fetched successfully")
	return c.JSON(segs)
}

// handleRecordingFile serves one segment file from the camera's directory.
// The name is restricted to a bare file name so the camera directory cannot
// be escaped.
func (s *Server) handleRecordingFile(c *fiber.Ctx) error {
	cameraID := c.Params("cameraId")
	name := c.Params("name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid file name")
	}
	segs, err := s.store.SegmentsByCamera(c.Context(), cameraID, time.Time{}, time.Time{})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Error querying recordings")
	}
	for _, seg := range segs {
		if filepath.Base(seg.FilePath) == name {
			return c.SendFile(seg.FilePath)
		}
	}
	return c.Status(fiber.StatusNotFound).SendString("Recording not found")
}
