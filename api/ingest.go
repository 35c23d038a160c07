package api

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"
)

// handleIngest is the stream relay channel terminus: one ws connection per
// live camera, carrying the camera's stream as binary messages. The session
// id in the path authenticates the connection.
func (s *Server) handleIngest(c *websocket.Conn) {
	defer c.Close() //nolint:errcheck

	sessionID := c.Params("sessionId")
	session, err := s.registry.Session(sessionID)
	if err != nil {
		log.Warn().Str("sessionId", sessionID).Msg("Ingest rejected: unknown session")
		_ = c.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	logger := log.With().Str("cameraId", session.CameraID).Logger()

	pipeline, err := s.manager.Ensure(session.CameraID)
	if err != nil {
		logger.Error().Err(err).Msg("Ingest rejected: pipeline unavailable")
		_ = c.WriteJSON(map[string]string{"error": "pipeline unavailable"})
		return
	}
	logger.Info().Msg("Stream ingest connected")

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				logger.Info().Err(err).Msg("Stream ingest disconnected")
			}
			break
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		pipeline.Ingest(data)
	}
	// Close the segment at the gap instead of spanning the outage.
	pipeline.Interrupt()
}

// handleLive attaches a viewer to a camera's fan-out point
func (s *Server) handleLive(c *websocket.Conn) {
	defer c.Close() //nolint:errcheck

	cameraID := c.Params("cameraId")
	logger := log.With().Str("cameraId", cameraID).Logger()

	pipeline, ok := s.manager.Pipeline(cameraID)
	if !ok {
		_ = c.WriteJSON(map[string]string{"error": "camera offline"})
		return
	}
	sub := pipeline.Subscribe()
	defer sub.Unsubscribe()
	logger.Info().Msg("Live viewer connected")

	for frame := range sub.Frames() {
		if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			logger.Info().Err(err).Msg("Live viewer disconnected")
			return
		}
	}
}
