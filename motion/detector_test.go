package motion

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtpl1/camrelay/models"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Threshold = 10
	cfg.DebounceFrames = 2
	cfg.QuietPeriod = 5 * time.Second
	return cfg
}

func TestDetectorDebounceAndQuietPeriod(t *testing.T) {
	d := NewDetector("cam-1", testConfig())

	var started, ended []models.MotionEvent
	d.OnStart = func(ev models.MotionEvent) { started = append(started, ev) }
	d.OnEnd = func(ev models.MotionEvent) { ended = append(ended, ev) }

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	at := func(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

	// five quiet frames, nothing opens
	for i := 0; i < 5; i++ {
		d.ProcessScore(2.0, at(i))
	}
	assert.False(t, d.Active())
	assert.Empty(t, started)

	// first over-threshold frame is debounced away
	d.ProcessScore(20.0, at(5))
	assert.False(t, d.Active())
	assert.Empty(t, started)

	// second consecutive over-threshold frame opens the event at its timestamp
	d.ProcessScore(30.0, at(6))
	require.Len(t, started, 1)
	assert.True(t, d.Active())
	assert.Equal(t, at(6), started[0].StartedAt)
	assert.Equal(t, "cam-1", started[0].CameraID)
	assert.NotEmpty(t, started[0].EventID)
	assert.True(t, started[0].EndedAt.IsZero())

	d.ProcessScore(25.0, at(7))

	// quiet frames inside the quiet period keep the event open
	for i := 8; i < 12; i++ {
		d.ProcessScore(1.0, at(i))
		assert.True(t, d.Active(), "still active at t+%d", i)
	}
	assert.Empty(t, ended)

	// first quiet frame past the quiet period closes it
	d.ProcessScore(1.0, at(12))
	require.Len(t, ended, 1)
	assert.False(t, d.Active())
	assert.Equal(t, at(12), ended[0].EndedAt)
	assert.Equal(t, started[0].EventID, ended[0].EventID)
	assert.InDelta(t, 30.0, ended[0].PeakScore, 0.001)
}

func TestDetectorSingleSpikeDoesNotOpen(t *testing.T) {
	d := NewDetector("cam-1", testConfig())
	opened := false
	d.OnStart = func(models.MotionEvent) { opened = true }

	base := time.Now()
	d.ProcessScore(50.0, base)
	d.ProcessScore(1.0, base.Add(time.Second))
	d.ProcessScore(50.0, base.Add(2*time.Second))
	d.ProcessScore(1.0, base.Add(3*time.Second))

	assert.False(t, opened)
	assert.False(t, d.Active())
}

func TestDetectorReopensAfterClose(t *testing.T) {
	d := NewDetector("cam-1", testConfig())
	var started, ended int
	d.OnStart = func(models.MotionEvent) { started++ }
	d.OnEnd = func(models.MotionEvent) { ended++ }

	base := time.Now()
	at := func(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

	d.ProcessScore(20, at(0))
	d.ProcessScore(20, at(1))
	d.ProcessScore(1, at(7))
	require.Equal(t, 1, started)
	require.Equal(t, 1, ended)

	d.ProcessScore(20, at(8))
	d.ProcessScore(20, at(9))
	assert.Equal(t, 2, started)
	assert.True(t, d.Active())
}

func TestDetectorPeakTracksHighestScore(t *testing.T) {
	d := NewDetector("cam-1", testConfig())
	var closed models.MotionEvent
	d.OnEnd = func(ev models.MotionEvent) { closed = ev }

	base := time.Now()
	at := func(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

	d.ProcessScore(15, at(0))
	d.ProcessScore(18, at(1))
	d.ProcessScore(42, at(2))
	d.ProcessScore(12, at(3))
	d.ProcessScore(1, at(10))

	assert.InDelta(t, 42.0, closed.PeakScore, 0.001)
}

func flatFrame(c uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	return img
}

func TestScoreFirstFrameSeedsReference(t *testing.T) {
	d := NewDetector("cam-1", DefaultConfig())
	assert.Zero(t, d.Score(flatFrame(128)))
}

func TestScoreRespondsToBrightnessJump(t *testing.T) {
	d := NewDetector("cam-1", DefaultConfig())
	d.Score(flatFrame(10))

	same := d.Score(flatFrame(10))
	assert.Less(t, same, 1.0)

	jump := d.Score(flatFrame(200))
	assert.Greater(t, jump, DefaultConfig().Threshold)
}

func TestScoreReferenceDecays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefDecay = 0.5
	d := NewDetector("cam-1", cfg)
	d.Score(flatFrame(0))

	// the reference chases a sustained change, so the score falls frame over frame
	first := d.Score(flatFrame(200))
	second := d.Score(flatFrame(200))
	third := d.Score(flatFrame(200))
	assert.Greater(t, first, second)
	assert.Greater(t, second, third)
}

func TestScoreColorFrames(t *testing.T) {
	d := NewDetector("cam-1", DefaultConfig())
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 60, B: 90, A: 255})
		}
	}
	assert.Zero(t, d.Score(img))
	assert.NotPanics(t, func() { d.Score(img) })
}
