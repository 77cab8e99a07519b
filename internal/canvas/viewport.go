package canvas

import (
	"math"

	"kno-canvas/internal/models"
)

const (
	MinZoom = 0.1
	MaxZoom = 5.0

	// WheelZoomSensitivity scales wheel deltaY into an exponential zoom ratio.
	WheelZoomSensitivity = 0.01
)

// DefaultViewport is the viewport of a freshly created canvas.
func DefaultViewport() models.Viewport {
	return models.Viewport{X: 0, Y: 0, Zoom: 1}
}

// ClampZoom bounds z to [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

func normalize(v models.Viewport) models.Viewport {
	if v.Zoom == 0 {
		v.Zoom = 1
	}
	v.Zoom = ClampZoom(v.Zoom)
	return v
}

// WorldToScreen maps p*zoom + offset.
func WorldToScreen(v models.Viewport, p models.Point) models.Point {
	return models.Point{X: p.X*v.Zoom + v.X, Y: p.Y*v.Zoom + v.Y}
}

// ScreenToWorld maps (p - offset) / zoom.
func ScreenToWorld(v models.Viewport, p models.Point) models.Point {
	return models.Point{X: (p.X - v.X) / v.Zoom, Y: (p.Y - v.Y) / v.Zoom}
}

// Pan shifts the world origin by a screen delta. Zoom does not scale it.
func Pan(v models.Viewport, dx, dy float64) models.Viewport {
	v.X += dx
	v.Y += dy
	return v
}

// ZoomAt scales by ratio while keeping the world point under the screen
// anchor fixed.
func ZoomAt(v models.Viewport, anchor models.Point, ratio float64) models.Viewport {
	return zoomTo(v, anchor, v.Zoom*ratio)
}

func zoomTo(v models.Viewport, anchor models.Point, zoom float64) models.Viewport {
	newZoom := ClampZoom(zoom)
	scale := newZoom / v.Zoom
	return models.Viewport{
		X:    anchor.X - (anchor.X-v.X)*scale,
		Y:    anchor.Y - (anchor.Y-v.Y)*scale,
		Zoom: newZoom,
	}
}

// WheelInput is a wheel event in screen space. Modifier is true for
// ctrl/cmd-wheel, which browsers also report for trackpad pinch.
type WheelInput struct {
	DeltaX   float64      `json:"delta_x"`
	DeltaY   float64      `json:"delta_y"`
	Anchor   models.Point `json:"anchor"`
	Modifier bool         `json:"modifier"`
}

// Wheel applies a wheel event: zoom-at-anchor with a modifier, plain pan without.
func Wheel(v models.Viewport, in WheelInput) models.Viewport {
	if in.Modifier {
		return ZoomAt(v, in.Anchor, math.Exp(-in.DeltaY*WheelZoomSensitivity))
	}
	return Pan(v, -in.DeltaX, -in.DeltaY)
}

// Pinch tracks a two-finger gesture. The zoom at gesture start is kept so
// every update scales from it instead of compounding per-frame ratios.
type Pinch struct {
	active    bool
	startZoom float64
}

func (p *Pinch) Begin(v models.Viewport) {
	p.active = true
	p.startZoom = v.Zoom
}

// Update applies the cumulative gesture scale anchored at the gesture centre.
func (p *Pinch) Update(v models.Viewport, anchor models.Point, scale float64) models.Viewport {
	if !p.active {
		p.Begin(v)
	}
	return zoomTo(v, anchor, p.startZoom*scale)
}

func (p *Pinch) End() {
	p.active = false
	p.startZoom = 0
}

func (p *Pinch) Active() bool {
	return p.active
}
