package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
)

const (
	ptzContinuousPath = "/ISAPI/PTZCtrl/channels/1/continuous"
	ptzPresetPathFmt  = "/ISAPI/PTZCtrl/channels/1/presets/%d/goto"
	defaultZoomSpeed  = 50
)

// ZoomControl translates zoom commands into the camera's ISAPI motorized-lens
// protocol. It runs on its own execution path and never blocks the stream
// relay.
type ZoomControl struct {
	client *resty.Client
}

// NewZoomControl creates a control channel to the camera's HTTP interface
func NewZoomControl(cfg CameraConfig) *ZoomControl {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("http://%s", cfg.Addr)).
		SetDigestAuth(cfg.User, cfg.Pass).
		SetTimeout(5 * time.Second)
	return &ZoomControl{client: client}
}

// Apply executes one zoom command against the camera
func (z *ZoomControl) Apply(ctx context.Context, req models.ZoomRequest) error {
	if req.Action == models.GotoPreset {
		return z.gotoPreset(ctx, req.Preset)
	}
	body, err := ptzBody(req)
	if err != nil {
		return err
	}
	r, err := z.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/xml").
		SetBody(body).
		Put(ptzContinuousPath)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCameraUnreachable, err)
	}
	if r.IsError() {
		return fmt.Errorf("%w: camera returned %s", models.ErrCameraUnreachable, r.Status())
	}
	log.Debug().Str("action", string(req.Action)).Msg("Zoom command applied")
	return nil
}

// ptzBody builds the continuous-motion XML for a zoom action. A stop zeroes
// all axes.
func ptzBody(req models.ZoomRequest) (string, error) {
	speed := req.Speed
	if speed <= 0 || speed > 100 {
		speed = defaultZoomSpeed
	}
	switch req.Action {
	case models.ZoomIn:
		return fmt.Sprintf("<PTZData><pan>0</pan><tilt>0</tilt><zoom>%d</zoom></PTZData>", speed), nil
	case models.ZoomOut:
		return fmt.Sprintf("<PTZData><pan>0</pan><tilt>0</tilt><zoom>-%d</zoom></PTZData>", speed), nil
	case models.ZoomStop:
		return "<PTZData><pan>0</pan><tilt>0</tilt><zoom>0</zoom></PTZData>", nil
	default:
		return "", fmt.Errorf("unknown zoom action: %s", req.Action)
	}
}

func (z *ZoomControl) gotoPreset(ctx context.Context, preset int) error {
	if preset <= 0 {
		return fmt.Errorf("invalid preset: %d", preset)
	}
	r, err := z.client.R().
		SetContext(ctx).
		Put(fmt.Sprintf(ptzPresetPathFmt, preset))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCameraUnreachable, err)
	}
	if r.IsError() {
		return fmt.Errorf("%w: camera returned %s", models.ErrCameraUnreachable, r.Status())
	}
	return nil
}
