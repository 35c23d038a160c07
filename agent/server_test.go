package agent

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtpl1/camrelay/models"
)

func newLocalApp(t *testing.T, cameraAddr string) (*Agent, *fiber.App) {
	t.Helper()
	a := New(Config{
		ServerURL:         "http://127.0.0.1:1",
		AgentName:         "pi-front",
		AgentAddress:      "127.0.0.1:8554",
		SharedSecret:      "secret",
		Camera:            CameraConfig{Addr: cameraAddr, Channel: "101"},
		HeartbeatInterval: 15 * time.Second,
	})
	app := fiber.New()
	a.RegisterLocalRoutes(app)
	return a, app
}

func TestLocalRoutesRequireSecret(t *testing.T) {
	_, app := newLocalApp(t, "unused")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/status", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/status", nil)
	req.Header.Set(relaySecretHeader, "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLocalStatus(t *testing.T) {
	a, app := newLocalApp(t, "unused")
	a.camera.setConnected(true)

	req := httptest.NewRequest(fiber.MethodGet, "/status", nil)
	req.Header.Set(relaySecretHeader, "secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	status := decodeStatus(t, resp)
	assert.True(t, status.Online)
	assert.True(t, status.CameraConnected)
	assert.Zero(t, status.QueuedEvents)
}

func decodeStatus(t *testing.T, resp *http.Response) models.AgentStatus {
	t.Helper()
	var status models.AgentStatus
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &status))
	return status
}

func TestLocalSnapshot(t *testing.T) {
	a, app := newLocalApp(t, "unused")

	req := httptest.NewRequest(fiber.MethodGet, "/snapshot", nil)
	req.Header.Set(relaySecretHeader, "secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	a.camera.publish([]byte("jpeg-bytes"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestLocalZoomForwardsToCamera(t *testing.T) {
	var gotPath string
	camera := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer camera.Close()

	_, app := newLocalApp(t, strings.TrimPrefix(camera.URL, "http://"))

	req := httptest.NewRequest(fiber.MethodPost, "/zoom", strings.NewReader(`{"action":"zoomIn"}`))
	req.Header.Set(relaySecretHeader, "secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "/ISAPI/PTZCtrl/channels/1/continuous", gotPath)
}

func TestLocalZoomReportsCameraFailure(t *testing.T) {
	// nothing listens at the camera address
	_, app := newLocalApp(t, "127.0.0.1:1")

	req := httptest.NewRequest(fiber.MethodPost, "/zoom", strings.NewReader(`{"action":"zoomIn"}`))
	req.Header.Set(relaySecretHeader, "secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 10000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestLocalZoomRejectsBadBody(t *testing.T) {
	_, app := newLocalApp(t, "unused")

	req := httptest.NewRequest(fiber.MethodPost, "/zoom", strings.NewReader(`{}`))
	req.Header.Set(relaySecretHeader, "secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
