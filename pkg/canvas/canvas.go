// Package canvas provides the 2D drawing surface used by the renderer.
// The Canvas interface exposes path, fill, stroke, clip, and text
// primitives over a pixel buffer; Image implements it in memory so the
// same pixels can be handed to the display as a shared-memory buffer.
package canvas

import (
	"image"

	"golang.org/x/image/font"
)

// TextMetrics describes a measured string for the current font face.
// All values are in pixels.
type TextMetrics struct {
	// Width is the ink width of the string.
	Width float64

	// XBearing is the horizontal offset from the text origin to the
	// leftmost ink, used to correct centering.
	XBearing float64

	Ascent  float64
	Descent float64

	// Height is the recommended line height of the face.
	Height float64
}

// Canvas is a stateful 2D drawing surface. Implementations are not safe
// for concurrent use.
type Canvas interface {
	// Size returns the pixel dimensions of the surface.
	Size() (w, h int)

	// Reset restores the identity transform, drops any clip, and
	// replaces every pixel with fully transparent black.
	Reset()

	// Push saves the current transform, clip, and drawing parameters;
	// Pop restores the most recently saved state.
	Push()
	Pop()

	Scale(sx, sy float64)
	Translate(x, y float64)

	SetColor(r, g, b, a float64)
	SetLineWidth(w float64)

	// FillReplace sets every pixel to the given color, replacing
	// rather than blending.
	FillReplace(r, g, b, a float64)

	// Rect and RoundedRect append to the current path.
	Rect(x, y, w, h float64)
	RoundedRect(x, y, w, h, r float64)

	Fill()
	FillPreserve()
	Stroke()
	StrokePreserve()

	// Clip intersects the clip region with the current path and clears
	// the path.
	Clip()

	// DrawImage paints img with its top-left corner at (x, y) in user
	// space, honoring the current transform.
	DrawImage(img image.Image, x, y int)

	SetFontFace(face font.Face)
	MeasureText(s string) TextMetrics

	// DrawText draws s with the baseline origin at (x, y).
	DrawText(s string, x, y float64)
}
