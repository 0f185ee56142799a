package wayland

import (
	"math"

	"github.com/neurlang/wayland/wl"
	ext "github.com/tuxx/wayland-ext-session-lock-go"

	"github.com/MatthiasKunnen/deadbolt/pkg/display"
)

var (
	_ display.Surface     = (*surface)(nil)
	_ display.Subsurface  = (*subsurface)(nil)
	_ display.Buffer      = (*buffer)(nil)
	_ display.LockSurface = (*lockSurface)(nil)
	_ display.Output      = (*output)(nil)
)

type surface struct {
	c  *Client
	wl *wl.Surface
}

func (s *surface) Attach(b display.Buffer) {
	wlBuffer, ok := b.(*buffer)
	if !ok {
		return
	}
	s.c.noteErr(s.wl.Attach(wlBuffer.wl, 0, 0))
}

func (s *surface) DamageAll() {
	s.c.noteErr(s.wl.Damage(0, 0, math.MaxInt32, math.MaxInt32))
}

func (s *surface) SetBufferScale(scale int32) {
	s.c.noteErr(s.wl.SetBufferScale(scale))
}

// SetInputRegionEmpty makes the surface ignore all input. A nil region
// would mean infinite, so an empty wl_region is created for the call
// and destroyed right after; the compositor copies it on set.
func (s *surface) SetInputRegionEmpty() {
	region, err := s.c.compositor.CreateRegion()
	if err != nil {
		s.c.noteErr(err)
		return
	}
	s.c.noteErr(s.wl.SetInputRegion(region))
	s.c.noteErr(region.Destroy())
}

func (s *surface) Commit() {
	s.c.noteErr(s.wl.Commit())
}

func (s *surface) Destroy() {
	s.c.noteErr(s.wl.Destroy())
}

type subsurface struct {
	c  *Client
	wl *wl.Subsurface
}

func (s *subsurface) SetPosition(x, y int32) {
	s.c.noteErr(s.wl.SetPosition(x, y))
}

func (s *subsurface) Destroy() {
	s.c.noteErr(s.wl.Destroy())
}

type buffer struct {
	c       *Client
	wl      *wl.Buffer
	release func()
}

func (b *buffer) SetReleaseHandler(fn func()) {
	b.release = fn
	b.wl.AddReleaseHandler(b)
}

// HandleBufferRelease runs on the reader goroutine; the handler itself
// is queued so the owner sees it on the loop goroutine.
func (b *buffer) HandleBufferRelease(wl.BufferReleaseEvent) {
	if b.release == nil {
		return
	}
	b.c.enqueue(b.release)
}

func (b *buffer) Destroy() {
	b.c.noteErr(b.wl.Destroy())
}

type lockSurface struct {
	c  *Client
	wl *ext.SessionLockSurface
}

func (l *lockSurface) AckConfigure(serial uint32) {
	l.c.noteErr(l.wl.AckConfigure(serial))
}

func (l *lockSurface) Destroy() {
	l.c.noteErr(l.wl.Destroy())
}
