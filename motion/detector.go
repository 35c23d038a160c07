// Package motion detects motion by frame differencing over a downsampled grid
package motion

import (
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"

	"github.com/vtpl1/camrelay/models"
)

// Config carries the detector tunables
type Config struct {
	// Threshold is the difference score above which a frame counts as motion
	Threshold float64
	// DebounceFrames is how many consecutive over-threshold frames open an event
	DebounceFrames int
	// QuietPeriod is how long scores must stay below threshold to close an event
	QuietPeriod time.Duration
	// RefDecay is the per-frame weight pulling the reference toward the current
	// frame, so gradual lighting changes do not pin the detector active
	RefDecay float64
	// GridW, GridH are the downsampled comparison grid dimensions
	GridW, GridH int
}

// DefaultConfig returns the tuning used by the agent
func DefaultConfig() Config {
	return Config{
		Threshold:      12.0,
		DebounceFrames: 2,
		QuietPeriod:    5 * time.Second,
		RefDecay:       0.05,
		GridW:          64,
		GridH:          48,
	}
}

type state int

const (
	stateIdle state = iota
	stateActive
)

// Detector is a per-camera Idle/Active state machine over frame difference
// scores. It runs wherever frames are decoded and does not care whether the
// server is reachable.
type Detector struct {
	cameraID string
	cfg      Config

	// OnStart fires on the Idle->Active transition with EndedAt unset
	OnStart func(models.MotionEvent)
	// OnEnd fires on the Active->Idle transition with the closed event
	OnEnd func(models.MotionEvent)

	ref  []float64
	grid *image.Gray

	state     state
	overCount int
	runPeak   float64
	lastOver  time.Time
	current   models.MotionEvent
}

// NewDetector creates a detector for one camera
func NewDetector(cameraID string, cfg Config) *Detector {
	if cfg.DebounceFrames <= 0 {
		cfg.DebounceFrames = 1
	}
	if cfg.GridW <= 0 || cfg.GridH <= 0 {
		cfg.GridW, cfg.GridH = 64, 48
	}
	return &Detector{
		cameraID: cameraID,
		cfg:      cfg,
		grid:     image.NewGray(image.Rect(0, 0, cfg.GridW, cfg.GridH)),
	}
}

// ProcessFrame scores a decoded frame against the reference and advances the
// state machine.
func (d *Detector) ProcessFrame(frame image.Image, ts time.Time) {
	score := d.Score(frame)
	d.ProcessScore(score, ts)
}

// Score reduces a frame to its mean absolute delta against the reference over
// the downsampled grayscale grid, then decays the reference toward the frame.
func (d *Detector) Score(frame image.Image) float64 {
	xdraw.ApproxBiLinear.Scale(d.grid, d.grid.Bounds(), frame, frame.Bounds(), xdraw.Src, nil)

	n := len(d.grid.Pix)
	if d.ref == nil {
		d.ref = make([]float64, n)
		for i, px := range d.grid.Pix {
			d.ref[i] = float64(px)
		}
		return 0
	}

	var sum float64
	for i, px := range d.grid.Pix {
		delta := float64(px) - d.ref[i]
		if delta < 0 {
			delta = -delta
		}
		sum += delta
		d.ref[i] += d.cfg.RefDecay * (float64(px) - d.ref[i])
	}
	return sum / float64(n)
}

// ProcessScore advances the Idle/Active machine with one frame's score
func (d *Detector) ProcessScore(score float64, ts time.Time) {
	over := score > d.cfg.Threshold
	switch d.state {
	case stateIdle:
		if !over {
			d.overCount = 0
			d.runPeak = 0
			return
		}
		d.overCount++
		if score > d.runPeak {
			d.runPeak = score
		}
		d.lastOver = ts
		if d.overCount < d.cfg.DebounceFrames {
			return
		}
		d.state = stateActive
		d.current = models.MotionEvent{
			CameraID:  d.cameraID,
			EventID:   uuid.NewString(),
			StartedAt: ts,
			PeakScore: d.runPeak,
		}
		log.Debug().Str("cameraId", d.cameraID).Float64("score", score).Msg("Motion started")
		if d.OnStart != nil {
			d.OnStart(d.current)
		}

	case stateActive:
		if score > d.current.PeakScore {
			d.current.PeakScore = score
		}
		if over {
			d.lastOver = ts
			return
		}
		if ts.Sub(d.lastOver) < d.cfg.QuietPeriod {
			return
		}
		d.current.EndedAt = ts
		closed := d.current
		d.state = stateIdle
		d.overCount = 0
		d.runPeak = 0
		log.Debug().Str("cameraId", d.cameraID).Float64("peak", closed.PeakScore).Msg("Motion ended")
		if d.OnEnd != nil {
			d.OnEnd(closed)
		}
	}
}

// Active reports whether a motion event is currently open
func (d *Detector) Active() bool {
	return d.state == stateActive
}
