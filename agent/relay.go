package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StreamRelay forwards camera frames to the server's ingest endpoint over a
// websocket, one binary message per frame, with no transformation. It
// reconnects with backoff without touching the camera loop; the session id is
// re-read on every dial so a re-registration is picked up transparently.
type StreamRelay struct {
	serverURL string
	sessionID func() string
	frames    <-chan []byte
}

// NewStreamRelay creates a relay from the camera frame channel to the server
func NewStreamRelay(serverURL string, sessionID func() string, frames <-chan []byte) *StreamRelay {
	return &StreamRelay{serverURL: serverURL, sessionID: sessionID, frames: frames}
}

// Run forwards frames until the context is cancelled
func (r *StreamRelay) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		err := r.relay(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retryIn", backoff).Msg("Stream relay lost, reconnecting")
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

func (r *StreamRelay) relay(ctx context.Context) error {
	sessionID := r.sessionID()
	if sessionID == "" {
		return fmt.Errorf("no registration session yet")
	}
	endpoint, err := ingestURL(r.serverURL, sessionID)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial ingest: %w", err)
	}
	defer conn.Close() //nolint:errcheck
	log.Info().Str("endpoint", endpoint).Msg("Stream relay connected")

	for {
		select {
		case frame := <-r.frames:
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		}
	}
}

// ingestURL converts the server's HTTP base URL into the ws ingest endpoint
func ingestURL(serverURL, sessionID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ingest/" + sessionID
	return u.String(), nil
}
