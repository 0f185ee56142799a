package locker

import (
	"fmt"
	"image"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/MatthiasKunnen/deadbolt/pkg/canvas"
	"github.com/MatthiasKunnen/deadbolt/pkg/display"
)

var bufferSeq atomic.Uint64

// shmBuffer is one shared-memory buffer. The compositor reads it
// between commit and release, tracked by inUse.
type shmBuffer struct {
	wire   display.Buffer
	fd     int
	data   []byte
	canvas *canvas.Image
	width  int32
	height int32
	inUse  atomic.Bool
}

// lock claims the buffer for drawing. It reports false when the buffer
// is still held by the compositor.
func (b *shmBuffer) lock() bool {
	return !b.inUse.Swap(true)
}

func (b *shmBuffer) destroy() {
	b.wire.Destroy()
	_ = unix.Munmap(b.data)
	_ = unix.Close(b.fd)
}

// Pool manages the buffers of one surface. It is confined to the loop
// goroutine; only the release handlers it registers touch buffer state
// from dispatch, and those run on the same goroutine.
type Pool struct {
	factory display.BufferFactory
	log     *zap.Logger
	buffers []*shmBuffer
}

func NewPool(factory display.BufferFactory, log *zap.Logger) *Pool {
	return &Pool{factory: factory, log: log}
}

// Acquire returns a guard over a free buffer of the given size. Free
// buffers of a stale size are destroyed; busy ones are kept until the
// compositor releases them.
func (p *Pool) Acquire(width, height int32) (*Guard, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	var match *shmBuffer
	kept := p.buffers[:0]
	for _, b := range p.buffers {
		if b.width == width && b.height == height {
			kept = append(kept, b)
			if match == nil && b.lock() {
				match = b
			}
			continue
		}
		if b.inUse.Load() {
			kept = append(kept, b)
			continue
		}
		b.destroy()
	}
	p.buffers = kept
	if match == nil {
		b, err := p.allocate(width, height)
		if err != nil {
			return nil, err
		}
		b.inUse.Store(true)
		p.buffers = append(p.buffers, b)
		match = b
	}
	return &Guard{buffer: match}, nil
}

func (p *Pool) allocate(width, height int32) (*shmBuffer, error) {
	stride := width * 4
	size := int(stride) * int(height)
	name := fmt.Sprintf("deadbolt-%d-%d", os.Getpid(), bufferSeq.Add(1))
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("size shared memory: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("map shared memory: %w", err)
	}
	wire, err := p.factory.CreateBuffer(fd, size, width, height, stride)
	if err != nil {
		_ = unix.Munmap(data)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("create display buffer: %w", err)
	}
	im := &image.RGBA{
		Pix:    data,
		Stride: int(stride),
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}
	b := &shmBuffer{
		wire:   wire,
		fd:     fd,
		data:   data,
		canvas: canvas.NewForRGBA(im),
		width:  width,
		height: height,
	}
	wire.SetReleaseHandler(func() {
		b.inUse.Store(false)
	})
	p.log.Debug("allocated shared buffer",
		zap.Int32("width", width),
		zap.Int32("height", height),
	)
	return b, nil
}

// Destroy tears down every buffer, including ones the compositor still
// holds. Only valid once the surfaces using them are gone.
func (p *Pool) Destroy() {
	for _, b := range p.buffers {
		b.destroy()
	}
	p.buffers = nil
}

// Guard holds exclusive use of a buffer from acquisition to commit.
// Release must always be called; without a commit it returns the buffer
// to the pool.
type Guard struct {
	buffer    *shmBuffer
	committed bool
}

// Canvas returns the drawing surface of the held buffer. Its pixels are
// standard RGBA; Commit converts them to the wire format.
func (g *Guard) Canvas() canvas.Canvas {
	return g.buffer.canvas
}

// Commit converts the pixels to the display byte order, attaches the
// buffer to s, damages the whole surface, and commits. The buffer stays
// in use until the compositor releases it.
func (g *Guard) Commit(s display.Surface) {
	canvas.RGBAToBGRA(g.buffer.data)
	s.Attach(g.buffer.wire)
	s.DamageAll()
	s.Commit()
	g.committed = true
}

// Release returns an uncommitted buffer to the pool. After a commit it
// does nothing; the release handler frees the buffer instead.
func (g *Guard) Release() {
	if !g.committed {
		g.buffer.inUse.Store(false)
	}
}
