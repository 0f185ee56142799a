// Package render rasterizes the lock screen: a background layer and an
// overlay carrying the state frame and the masked password box. It
// draws through the canvas abstraction and never talks to the display.
package render

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/MatthiasKunnen/deadbolt/pkg/auth"
	"github.com/MatthiasKunnen/deadbolt/pkg/canvas"
	"github.com/MatthiasKunnen/deadbolt/pkg/config"
)

// DefaultDPI is used when an output reports unusable physical
// dimensions or DPI-aware font scaling is disabled.
const DefaultDPI = 96

var (
	// ErrInvalidGeometry reports a canvas without positive dimensions.
	ErrInvalidGeometry = errors.New("invalid canvas geometry")

	// ErrMissingImage reports image background mode without a decoded
	// image.
	ErrMissingImage = errors.New("background type is image, but no image is set")
)

// Renderer rasterizes the lock screen for one output. It is not safe
// for concurrent use.
type Renderer struct {
	cfg   *config.Config
	dpi   float64
	scale float64
	fonts *faceCache
	log   *zap.Logger
}

// New returns a Renderer at DefaultDPI and scale 1.
func New(cfg *config.Config, log *zap.Logger) *Renderer {
	return &Renderer{
		cfg:   cfg,
		dpi:   DefaultDPI,
		scale: 1,
		fonts: newFaceCache(cfg),
		log:   log,
	}
}

// SetDPI sets the dots-per-inch used for font sizing. Non-finite or
// non-positive values fall back to DefaultDPI.
func (r *Renderer) SetDPI(dpi float64) {
	if math.IsNaN(dpi) || math.IsInf(dpi, 0) || dpi <= 0 {
		r.log.Warn("unusable dpi, falling back",
			zap.Float64("dpi", dpi),
			zap.Float64("fallback", DefaultDPI))
		r.dpi = DefaultDPI
		return
	}
	r.dpi = dpi
}

// DPI returns the effective dots-per-inch.
func (r *Renderer) DPI() float64 { return r.dpi }

// SetScale sets the output scale factor. Non-positive values are
// ignored.
func (r *Renderer) SetScale(scale float64) {
	if scale <= 0 {
		return
	}
	r.scale = scale
}

// Scale returns the effective output scale factor.
func (r *Renderer) Scale() float64 { return r.scale }

// RenderBackground fills c with the configured background. The result
// depends only on the configuration and canvas size, so rendering twice
// produces identical pixels. img is the decoded background image and may
// be nil in color mode.
func (r *Renderer) RenderBackground(c canvas.Canvas, img image.Image) error {
	w, h := c.Size()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, w, h)
	}
	c.Reset()
	if r.cfg.General.BgType == config.BackgroundImage {
		if img == nil {
			return ErrMissingImage
		}
		r.drawBackgroundImage(c, img, w, h)
		return nil
	}
	bg := r.cfg.Colors.Background
	c.FillReplace(bg.R, bg.G, bg.B, bg.A)
	return nil
}

// RenderOverlay clears c and draws the frame and, unless hidden, the
// masked password box. passwordLen is the number of runes typed.
func (r *Renderer) RenderOverlay(c canvas.Canvas, state auth.State, passwordLen int) error {
	w, h := c.Size()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, w, h)
	}
	c.Reset()
	return r.drawOverlay(c, state, passwordLen)
}

// RenderComposite draws background and overlay into the same canvas,
// used when the compositor offers no subsurface support.
func (r *Renderer) RenderComposite(c canvas.Canvas, img image.Image, state auth.State, passwordLen int) error {
	if err := r.RenderBackground(c, img); err != nil {
		return err
	}
	return r.drawOverlay(c, state, passwordLen)
}

func (r *Renderer) drawOverlay(c canvas.Canvas, state auth.State, passwordLen int) error {
	w, h := c.Size()
	fw, fh := float64(w), float64(h)

	r.drawFrame(c, fw, fh, state)

	if passwordLen == 0 && r.cfg.Input.HideWhenEmpty {
		return nil
	}

	face, err := r.fonts.face(r.dpi * r.scale)
	if err != nil {
		return fmt.Errorf("resolve font: %w", err)
	}
	c.SetFontFace(face)

	text := strings.Repeat(r.cfg.Input.MaskChar, passwordLen)
	metrics := c.MeasureText(text)
	geo := inputGeometry(r.cfg, metrics, fw, fh, r.scale)
	r.drawInputBox(c, geo, text)
	return nil
}

func (r *Renderer) drawFrame(c canvas.Canvas, w, h float64, state auth.State) {
	lw := r.cfg.Frame.Border * r.scale
	col := r.frameColor(state)

	// The stroke centerline is inset by half the width so the stroke
	// lies fully inside the buffer.
	offset := lw / 2
	c.SetColor(col.R, col.G, col.B, col.A)
	c.SetLineWidth(lw)
	c.RoundedRect(offset, offset, w-lw, h-lw, r.cfg.Frame.Radius*r.scale)
	c.Stroke()
}

func (r *Renderer) frameColor(state auth.State) config.RGBA {
	switch state {
	case auth.StateSuccess:
		return r.cfg.Colors.FrameBorderSuccess
	case auth.StateFail:
		return r.cfg.Colors.FrameBorderFail
	}
	return r.cfg.Colors.FrameBorderIdle
}

func (r *Renderer) drawInputBox(c canvas.Canvas, g boxGeometry, text string) {
	bg := r.cfg.Colors.InputBg
	bd := r.cfg.Colors.InputBorder
	tc := r.cfg.Colors.Text

	c.Push()
	defer c.Pop()

	c.RoundedRect(g.OuterX, g.OuterY, g.OuterW, g.OuterH, g.Radius)
	c.SetColor(bg.R, bg.G, bg.B, bg.A)
	c.FillPreserve()
	c.SetColor(bd.R, bd.G, bd.B, bd.A)
	c.SetLineWidth(g.Border)
	c.StrokePreserve()
	c.Clip()

	c.Rect(g.InnerX, g.InnerY, g.InnerW, g.InnerH)
	c.Clip()

	c.SetColor(tc.R, tc.G, tc.B, tc.A)
	c.DrawText(text, g.TextX, g.TextY)
}

func (r *Renderer) drawBackgroundImage(c canvas.Canvas, img image.Image, bufW, bufH int) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if w <= 0 || h <= 0 {
		return
	}
	fw, fh := float64(bufW), float64(bufH)

	c.Push()
	defer c.Pop()

	switch r.cfg.Image.Scale {
	case config.ImageScaleStretch:
		c.Scale(fw/w, fh/h)
		c.DrawImage(img, 0, 0)
	case config.ImageScaleCenter:
		x := int(math.Floor((fw - w) / 2))
		y := int(math.Floor((fh - h) / 2))
		c.DrawImage(img, x, y)
	case config.ImageScaleTile:
		for y := 0; y < bufH; y += b.Dy() {
			for x := 0; x < bufW; x += b.Dx() {
				c.DrawImage(img, x, y)
			}
		}
	case config.ImageScaleFit:
		var scale, x, y float64
		if fw/fh > w/h {
			scale = fh / h
			x = fw/2/scale - w/2
		} else {
			scale = fw / w
			y = fh/2/scale - h/2
		}
		c.Scale(scale, scale)
		c.Translate(x, y)
		c.DrawImage(img, 0, 0)
	case config.ImageScaleFill:
		var scale, x, y float64
		if fw/fh > w/h {
			scale = fw / w
			y = fh/2/scale - h/2
		} else {
			scale = fh / h
			x = fw/2/scale - w/2
		}
		c.Scale(scale, scale)
		c.Translate(x, y)
		c.DrawImage(img, 0, 0)
	}
}

// boxGeometry is the resolved layout of the password box in device
// pixels.
type boxGeometry struct {
	OuterX, OuterY float64
	OuterW, OuterH float64
	InnerX, InnerY float64
	InnerW, InnerH float64

	// Radius is the absolute corner radius of the outer box.
	Radius float64

	// Border is the stroke width of the outer box.
	Border float64

	// TextX, TextY is the baseline origin of the masked text.
	TextX, TextY float64
}

// inputGeometry lays out the password box. metrics must come from a
// face already sized for the output.
func inputGeometry(cfg *config.Config, m canvas.TextMetrics, bufW, bufH, scale float64) boxGeometry {
	padX := cfg.Input.PaddingX * bufW
	padY := cfg.Input.PaddingY * bufH
	border := cfg.Input.Border * scale

	innerW := bufW * cfg.Input.Width
	if cfg.Input.FitToContent {
		innerW = math.Min(m.Width, innerW)
	}
	innerH := m.Height

	outerW := innerW + 2*padX + border
	outerH := innerH + 2*padY + border

	outerX := (bufW - outerW) / 2
	outerY := (bufH - outerH) / 2
	innerX := (bufW - innerW) / 2
	innerY := (bufH - innerH) / 2

	return boxGeometry{
		OuterX: outerX,
		OuterY: outerY,
		OuterW: outerW,
		OuterH: outerH,
		InnerX: innerX,
		InnerY: innerY,
		InnerW: innerW,
		InnerH: innerH,

		// The configured radius is relative to the outer box height.
		Radius: cfg.Input.Radius * outerH,
		Border: border,
		TextX:  innerX + (innerW-m.Width)/2 - m.XBearing,
		TextY:  innerY + (innerH-m.Descent)/2 + m.Ascent/2,
	}
}
