package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kno-canvas/internal/models"
)

func TestZoomAtKeepsAnchorFixed(t *testing.T) {
	v := models.Viewport{X: 0, Y: 0, Zoom: 1}
	anchor := models.Point{X: 100, Y: 100}

	got := ZoomAt(v, anchor, 2)

	assert.Equal(t, models.Viewport{X: -100, Y: -100, Zoom: 2}, got)
	assert.Equal(t, ScreenToWorld(v, anchor), ScreenToWorld(got, anchor))
}

func TestZoomAtAnchorInvariantAcrossRatios(t *testing.T) {
	v := models.Viewport{X: 37, Y: -12, Zoom: 1.3}
	anchor := models.Point{X: 412, Y: 288}
	before := ScreenToWorld(v, anchor)

	for _, ratio := range []float64{0.5, 0.9, 1.1, 1.7, 3} {
		after := ScreenToWorld(ZoomAt(v, anchor, ratio), anchor)
		assert.InDelta(t, before.X, after.X, 1e-9, "ratio %v", ratio)
		assert.InDelta(t, before.Y, after.Y, 1e-9, "ratio %v", ratio)
	}
}

func TestZoomIsClamped(t *testing.T) {
	v := DefaultViewport()

	assert.Equal(t, MaxZoom, ZoomAt(v, models.Point{}, 100).Zoom)
	assert.Equal(t, MinZoom, ZoomAt(v, models.Point{}, 0.001).Zoom)
}

func TestScreenWorldRoundTrip(t *testing.T) {
	v := models.Viewport{X: 120, Y: -40, Zoom: 0.75}
	p := models.Point{X: 310, Y: 95}

	back := WorldToScreen(v, ScreenToWorld(v, p))

	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestPanIgnoresZoom(t *testing.T) {
	v := models.Viewport{X: 10, Y: 10, Zoom: 3}

	assert.Equal(t, models.Viewport{X: 15, Y: 0, Zoom: 3}, Pan(v, 5, -10))
}

func TestWheel(t *testing.T) {
	v := DefaultViewport()

	t.Run("plain wheel pans", func(t *testing.T) {
		got := Wheel(v, WheelInput{DeltaX: 10, DeltaY: 20})
		assert.Equal(t, models.Viewport{X: -10, Y: -20, Zoom: 1}, got)
	})

	t.Run("modifier wheel zooms at the anchor", func(t *testing.T) {
		anchor := models.Point{X: 50, Y: 60}
		in := Wheel(v, WheelInput{DeltaY: -100, Anchor: anchor, Modifier: true})
		out := Wheel(v, WheelInput{DeltaY: 100, Anchor: anchor, Modifier: true})

		assert.Greater(t, in.Zoom, 1.0)
		assert.Less(t, out.Zoom, 1.0)
		assert.InDelta(t, ScreenToWorld(v, anchor).X, ScreenToWorld(in, anchor).X, 1e-9)
	})
}

func TestPinchScalesFromGestureStart(t *testing.T) {
	var p Pinch
	v := DefaultViewport()
	anchor := models.Point{X: 200, Y: 200}

	p.Begin(v)
	v = p.Update(v, anchor, 2)
	assert.InDelta(t, 2.0, v.Zoom, 1e-9)

	v = p.Update(v, anchor, 3)
	assert.InDelta(t, 3.0, v.Zoom, 1e-9, "scale is cumulative from the start zoom")

	p.End()
	assert.False(t, p.Active())
}
