package canvas

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/fogleman/gg"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a Canvas drawing into an in-memory RGBA image.
type Image struct {
	im   *image.RGBA
	ctx  *gg.Context
	face font.Face
}

var _ Canvas = (*Image)(nil)

// New returns an Image canvas of the given size.
func New(w, h int) *Image {
	return NewForRGBA(image.NewRGBA(image.Rect(0, 0, w, h)))
}

// NewForRGBA wraps an existing image without copying. Reset and
// FillReplace write to its pixel data directly.
func NewForRGBA(im *image.RGBA) *Image {
	return &Image{im: im, ctx: gg.NewContextForRGBA(im)}
}

// RGBA returns the underlying image.
func (c *Image) RGBA() *image.RGBA { return c.im }

func (c *Image) Size() (int, int) {
	b := c.im.Bounds()
	return b.Dx(), b.Dy()
}

func (c *Image) Reset() {
	c.ctx.Identity()
	c.ctx.ResetClip()
	pix := c.im.Pix
	for i := range pix {
		pix[i] = 0
	}
}

func (c *Image) Push() { c.ctx.Push() }
func (c *Image) Pop()  { c.ctx.Pop() }

func (c *Image) Scale(sx, sy float64)   { c.ctx.Scale(sx, sy) }
func (c *Image) Translate(x, y float64) { c.ctx.Translate(x, y) }

func (c *Image) SetColor(r, g, b, a float64) { c.ctx.SetRGBA(r, g, b, a) }
func (c *Image) SetLineWidth(w float64)      { c.ctx.SetLineWidth(w) }

func (c *Image) FillReplace(r, g, b, a float64) {
	a8 := clamp8(a)
	pr := premul(clamp8(r), a8)
	pg := premul(clamp8(g), a8)
	pb := premul(clamp8(b), a8)
	pix := c.im.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i] = pr
		pix[i+1] = pg
		pix[i+2] = pb
		pix[i+3] = a8
	}
}

func (c *Image) Rect(x, y, w, h float64) { c.ctx.DrawRectangle(x, y, w, h) }

func (c *Image) RoundedRect(x, y, w, h, r float64) {
	if r <= 0 {
		c.ctx.DrawRectangle(x, y, w, h)
		return
	}
	c.ctx.DrawRoundedRectangle(x, y, w, h, r)
}

func (c *Image) Fill()           { c.ctx.Fill() }
func (c *Image) FillPreserve()   { c.ctx.FillPreserve() }
func (c *Image) Stroke()         { c.ctx.Stroke() }
func (c *Image) StrokePreserve() { c.ctx.StrokePreserve() }
func (c *Image) Clip()           { c.ctx.Clip() }

func (c *Image) DrawImage(img image.Image, x, y int) { c.ctx.DrawImage(img, x, y) }

func (c *Image) SetFontFace(face font.Face) {
	c.face = face
	c.ctx.SetFontFace(face)
}

func (c *Image) MeasureText(s string) TextMetrics {
	if c.face == nil {
		return TextMetrics{}
	}
	bounds, _ := font.BoundString(c.face, s)
	m := c.face.Metrics()
	return TextMetrics{
		Width:    fixedToFloat(bounds.Max.X - bounds.Min.X),
		XBearing: fixedToFloat(bounds.Min.X),
		Ascent:   fixedToFloat(m.Ascent),
		Descent:  fixedToFloat(m.Descent),
		Height:   fixedToFloat(m.Height),
	}
}

func (c *Image) DrawText(s string, x, y float64) { c.ctx.DrawString(s, x, y) }

func fixedToFloat(v fixed.Int26_6) float64 { return float64(v) / 64 }

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xff
	}
	return uint8(v*255 + 0.5)
}

// premul multiplies an 8-bit channel by alpha with exact rounding.
func premul(c, a uint8) uint8 {
	z := uint32(c)*uint32(a) + 0x80
	return uint8((z + (z >> 8)) >> 8)
}

// RGBAToBGRA swaps the red and blue channel of every pixel in place.
// Wayland ARGB8888 buffers are B,G,R,A in memory on little-endian
// systems while image.RGBA stores R,G,B,A.
func RGBAToBGRA(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}

// LoadImage decodes the image at path into premultiplied RGBA with the
// origin at (0, 0). PNG, JPEG, GIF, BMP, TIFF, and WebP are supported.
func LoadImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if im, ok := src.(*image.RGBA); ok && im.Bounds().Min == (image.Point{}) {
		return im, nil
	}
	b := src.Bounds()
	im := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(im, im.Bounds(), src, b.Min, draw.Src)
	return im, nil
}
