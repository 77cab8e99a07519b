package export

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"kno-canvas/internal/models"
)

// ErrEmpty is returned when there is nothing to draw.
var ErrEmpty = errors.New("nothing to export")

const (
	padding       = 40.0
	autoHeight    = 150.0 // drawn height of nodes sized by their content
	maxDimension  = 4096.0
	fontSize      = 14.0
	lineHeight    = 18.0
	textInset     = 10.0
	defaultColour = "#ffffff"
)

var typeColours = map[models.NodeType]string{
	models.NodeSynthesis: "#ede9fe",
	models.NodeSpark:     "#fef3c7",
	models.NodeInsight:   "#dcfce7",
	models.NodeConflict:  "#fee2e2",
	models.NodeAsset:     "#fae8ff",
}

type rect struct {
	x, y, w, h float64
}

func (r rect) centre() (float64, float64) {
	return r.x + r.w/2, r.y + r.h/2
}

func bounds(n models.CanvasNode) rect {
	h := n.Height
	if h <= 0 {
		h = autoHeight
	}
	return rect{n.X, n.Y, n.Width, h}
}

// PNG draws the canvas in world space: edges as lines between node
// centres, then nodes as filled rectangles with their titles. The picture
// is scaled down when the canvas is larger than maxDimension.
func PNG(w io.Writer, nodes []models.CanvasNode, edges []models.CanvasEdge) error {
	if len(nodes) == 0 {
		return ErrEmpty
	}

	rects := make(map[string]rect, len(nodes))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, n := range nodes {
		r := bounds(n)
		rects[n.ID] = r
		minX = math.Min(minX, r.x)
		minY = math.Min(minY, r.y)
		maxX = math.Max(maxX, r.x+r.w)
		maxY = math.Max(maxY, r.y+r.h)
	}
	minX -= padding
	minY -= padding
	maxX += padding
	maxY += padding

	scale := math.Min(1, maxDimension/math.Max(maxX-minX, maxY-minY))
	width := int(math.Min(maxDimension, math.Ceil((maxX-minX)*scale)))
	height := int(math.Min(maxDimension, math.Ceil((maxY-minY)*scale)))

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()

	face, err := monoFace(fontSize * scale)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)

	// world -> image
	tx := func(x float64) float64 { return (x - minX) * scale }
	ty := func(y float64) float64 { return (y - minY) * scale }

	// Edges first so nodes cover their ends.
	dc.SetLineWidth(math.Max(1, 2*scale))
	dc.SetHexColor("#94a3b8")
	for _, e := range edges {
		src, ok1 := rects[e.Source]
		dst, ok2 := rects[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		x1, y1 := src.centre()
		x2, y2 := dst.centre()
		dc.DrawLine(tx(x1), ty(y1), tx(x2), ty(y2))
		dc.Stroke()
	}

	for _, n := range nodes {
		r := rects[n.ID]
		x, y := tx(r.x), ty(r.y)
		w, h := r.w*scale, r.h*scale

		dc.SetHexColor(fillColour(n))
		dc.DrawRectangle(x, y, w, h)
		dc.Fill()

		dc.SetLineWidth(math.Max(1, scale))
		dc.SetColor(color.Black)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()

		title := StripStars(n.Title)
		if title == "" {
			title = "Untitled"
		}
		inset := textInset * scale
		lines := dc.WordWrap(title, math.Max(1, w-2*inset))
		for i, line := range lines {
			ly := y + inset + float64(i+1)*lineHeight*scale
			if ly > y+h-inset/2 {
				break
			}
			dc.DrawString(line, x+inset, ly)
		}
	}

	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

func fillColour(n models.CanvasNode) string {
	if c := strings.TrimSpace(n.Color); strings.HasPrefix(c, "#") && (len(c) == 4 || len(c) == 7) {
		return c
	}
	if c, ok := typeColours[n.Type]; ok {
		return c
	}
	return defaultColour
}

func monoFace(size float64) (font.Face, error) {
	ttf, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return truetype.NewFace(ttf, &truetype.Options{
		Size:    math.Max(4, size),
		DPI:     72,
		Hinting: font.HintingFull,
	}), nil
}
