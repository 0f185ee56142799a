package locker

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/MatthiasKunnen/deadbolt/pkg/auth"
	"github.com/MatthiasKunnen/deadbolt/pkg/config"
	"github.com/MatthiasKunnen/deadbolt/pkg/display"
	"github.com/MatthiasKunnen/deadbolt/pkg/render"
)

// Surface is the lock presentation on one output. With a subcompositor
// the background carries the lock role and a synchronized overlay
// subsurface carries the input box, so overlay updates become visible
// through a cheap parent commit. Without one, both are composited into
// a single buffer per frame.
type Surface struct {
	out     display.Output
	disp    display.Display
	cfg     *config.Config
	rend    *render.Renderer
	bgImage image.Image
	log     *zap.Logger

	name   string
	scale  int32
	physW  int32
	physH  int32
	width  uint32
	height uint32
	dpiSet bool

	created    bool
	background display.Surface
	overlay    display.Surface
	subsurface display.Subsurface
	lockSurf   display.LockSurface

	bgPool *Pool
	ovPool *Pool

	// Buffer size the background was last painted at. A configure or
	// scale change that alters it forces a repaint; otherwise the
	// background buffer is reused across overlay updates.
	bgPaintedW int32
	bgPaintedH int32
}

// newSurface prepares the presentation for one output. Every surface
// carries its own renderer so per-output DPI and scale stay isolated.
func newSurface(
	out display.Output,
	disp display.Display,
	cfg *config.Config,
	bgImage image.Image,
	log *zap.Logger,
) *Surface {
	return &Surface{
		out:     out,
		disp:    disp,
		cfg:     cfg,
		rend:    render.New(cfg, log),
		bgImage: bgImage,
		log:     log,
		scale:   1,
		bgPool:  NewPool(disp, log),
		ovPool:  NewPool(disp, log),
	}
}

// create claims the lock-surface role for this output. Idempotent so a
// repeated output done event is harmless.
func (s *Surface) create() error {
	if s.created {
		return nil
	}
	bg, err := s.disp.CreateSurface()
	if err != nil {
		return fmt.Errorf("create background surface: %w", err)
	}
	if s.disp.HasSubcompositor() {
		ov, err := s.disp.CreateSurface()
		if err != nil {
			bg.Destroy()
			return fmt.Errorf("create overlay surface: %w", err)
		}
		sub, err := s.disp.CreateSubsurface(ov, bg)
		if err != nil {
			ov.Destroy()
			bg.Destroy()
			return fmt.Errorf("create overlay subsurface: %w", err)
		}
		ov.SetInputRegionEmpty()
		s.overlay = ov
		s.subsurface = sub
	}
	ls, err := s.disp.CreateLockSurface(bg, s.out)
	if err != nil {
		if s.subsurface != nil {
			s.subsurface.Destroy()
			s.subsurface = nil
		}
		if s.overlay != nil {
			s.overlay.Destroy()
			s.overlay = nil
		}
		bg.Destroy()
		return fmt.Errorf("create lock surface: %w", err)
	}
	s.background = bg
	s.lockSurf = ls
	s.created = true
	s.log.Debug("lock surface created",
		zap.String("output", s.name),
		zap.Bool("overlay", s.overlay != nil),
	)
	return nil
}

// configure applies a size from the compositor. The first configure
// fixes the DPI for the lifetime of the surface; acknowledgement is
// sent before rendering so a failed paint cannot stall the protocol.
func (s *Surface) configure(serial, width, height uint32, state auth.State, pwLen int) {
	s.width = width
	s.height = height
	if !s.dpiSet {
		s.dpiSet = true
		if s.cfg.Font.DPIAware {
			dpi, err := physicalDPI(width, height, s.physW, s.physH)
			if err != nil {
				s.log.Warn("cannot derive dpi, using default",
					zap.String("output", s.name),
					zap.Error(err),
				)
				s.rend.SetDPI(render.DefaultDPI)
			} else {
				s.rend.SetDPI(dpi)
				s.log.Debug("derived dpi",
					zap.String("output", s.name),
					zap.Float64("dpi", dpi),
				)
			}
		}
	}
	s.rend.SetScale(float64(s.scale))
	s.lockSurf.AckConfigure(serial)
	if err := s.render(state, pwLen); err != nil {
		s.log.Warn("render failed",
			zap.String("output", s.name),
			zap.Error(err),
		)
	}
}

// render paints the current state. Before the first configure it does
// nothing. Buffers are sized in physical pixels; the committed surface
// size still matches the configure because of the buffer scale.
func (s *Surface) render(state auth.State, pwLen int) error {
	if !s.created || s.width == 0 || s.height == 0 {
		return nil
	}
	w := int32(s.width) * s.scale
	h := int32(s.height) * s.scale

	if s.overlay == nil {
		guard, err := s.bgPool.Acquire(w, h)
		if err != nil {
			return err
		}
		defer guard.Release()
		err = s.rend.RenderComposite(guard.Canvas(), s.bgImage, state, pwLen)
		if err != nil {
			return err
		}
		s.background.SetBufferScale(s.scale)
		guard.Commit(s.background)
		return nil
	}

	guard, err := s.ovPool.Acquire(w, h)
	if err != nil {
		return err
	}
	defer guard.Release()
	if err := s.rend.RenderOverlay(guard.Canvas(), state, pwLen); err != nil {
		return err
	}
	s.overlay.SetBufferScale(s.scale)
	guard.Commit(s.overlay)

	if s.bgPaintedW != w || s.bgPaintedH != h {
		bgGuard, err := s.bgPool.Acquire(w, h)
		if err != nil {
			return err
		}
		defer bgGuard.Release()
		err = s.rend.RenderBackground(bgGuard.Canvas(), s.bgImage)
		if err != nil {
			return err
		}
		s.background.SetBufferScale(s.scale)
		bgGuard.Commit(s.background)
		s.bgPaintedW = w
		s.bgPaintedH = h
		return nil
	}
	// The overlay commit is latent until its parent commits. The
	// background content is unchanged, so commit without attaching.
	s.background.Commit()
	return nil
}

// destroy releases the protocol objects in role-before-surface order,
// then the buffers backing them.
func (s *Surface) destroy() {
	if s.lockSurf != nil {
		s.lockSurf.Destroy()
		s.lockSurf = nil
	}
	if s.subsurface != nil {
		s.subsurface.Destroy()
		s.subsurface = nil
	}
	if s.overlay != nil {
		s.overlay.Destroy()
		s.overlay = nil
	}
	if s.background != nil {
		s.background.Destroy()
		s.background = nil
	}
	s.ovPool.Destroy()
	s.bgPool.Destroy()
	s.out.Release()
	s.created = false
}

// physicalDPI derives dots per inch from the configured pixel size and
// the advertised physical size of an output.
func physicalDPI(width, height uint32, physWmm, physHmm int32) (float64, error) {
	if physWmm <= 0 || physHmm <= 0 {
		return 0, fmt.Errorf("physical size unknown (%dx%d mm)", physWmm, physHmm)
	}
	if width == 0 || height == 0 {
		return 0, errors.New("pixel size unknown")
	}
	wInch := float64(physWmm) / 25.4
	hInch := float64(physHmm) / 25.4
	return (float64(width)/wInch + float64(height)/hInch) / 2, nil
}
