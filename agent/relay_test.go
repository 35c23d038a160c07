package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsFrames(t *testing.T) {
	received := make(chan []byte, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ingest/") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				received <- data
			}
		}
	}))
	defer srv.Close()

	frames := make(chan []byte, 8)
	relay := NewStreamRelay(srv.URL, func() string { return "sess-1" }, frames)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	frames <- []byte("frame-a")
	frames <- []byte("frame-b")

	assert.Equal(t, "frame-a", string(<-received))
	assert.Equal(t, "frame-b", string(<-received))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}

func TestRelayWaitsForRegistration(t *testing.T) {
	relay := NewStreamRelay("http://127.0.0.1:1", func() string { return "" }, nil)
	err := relay.relay(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registration session")
}
