// Package wayland adapts the neurlang Wayland client and the
// ext-session-lock-v1 protocol to the display interfaces the locker
// drives. Protocol events are queued as they arrive, on whichever
// goroutine dispatches them, and Dispatch hands them to the event sink
// on the loop goroutine.
package wayland

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/neurlang/wayland/wl"
	"github.com/neurlang/wayland/wlclient"
	ext "github.com/tuxx/wayland-ext-session-lock-go"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/MatthiasKunnen/deadbolt/pkg/display"
)

var _ display.Display = (*Client)(nil)

// Client is the protocol adapter. Create it with NewClient, attach the
// sink with SetSink, then Connect. Requests must only be issued from
// the goroutine that calls Dispatch; request errors are collected and
// reported by the next Flush.
type Client struct {
	log  *zap.Logger
	sink display.EventSink

	display       *wl.Display
	registry      *wl.Registry
	compositor    *wl.Compositor
	subcompositor *wl.Subcompositor
	shm           *wl.Shm
	seat          *wl.Seat
	keyboard      *wl.Keyboard
	pointer       *wl.Pointer
	lockManager   *ext.SessionLockManager
	lock          *ext.SessionLock

	outputs map[uint32]*output

	queueMu sync.Mutex
	queue   []func()
	queueFd int

	reqMu  sync.Mutex
	reqErr error

	closing atomic.Bool
}

// NewClient prepares an unconnected client.
func NewClient(log *zap.Logger) (*Client, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Client{
		log:     log,
		outputs: make(map[uint32]*output),
		queueFd: fd,
	}, nil
}

// SetSink attaches the event sink. Must be called before Connect.
func (c *Client) SetSink(sink display.EventSink) {
	c.sink = sink
}

// Connect dials the compositor, binds the globals, and starts the
// reader goroutine. Events describing the initial outputs stay queued
// until the first Dispatch.
func (c *Client) Connect() error {
	if c.sink == nil {
		return errors.New("no event sink set")
	}
	d, err := wlclient.DisplayConnect(nil)
	if err != nil {
		return fmt.Errorf("connect to display: %w", err)
	}
	c.display = d

	registry, err := d.GetRegistry()
	if err != nil {
		wlclient.DisplayDisconnect(d)
		return fmt.Errorf("get registry: %w", err)
	}
	c.registry = registry
	registry.AddGlobalHandler(c)

	if err := wlclient.DisplayRoundtrip(d); err != nil {
		wlclient.DisplayDisconnect(d)
		return fmt.Errorf("registry roundtrip: %w", err)
	}
	// Run the queued binds now so the second roundtrip delivers the
	// initial bursts of every bound global.
	c.Dispatch()
	if err := wlclient.DisplayRoundtrip(d); err != nil {
		wlclient.DisplayDisconnect(d)
		return fmt.Errorf("globals roundtrip: %w", err)
	}

	if err := c.requireGlobals(); err != nil {
		wlclient.DisplayDisconnect(d)
		return err
	}
	if c.subcompositor == nil {
		c.log.Warn("compositor offers no wl_subcompositor, using composite rendering")
	}

	go c.readLoop()
	return nil
}

func (c *Client) requireGlobals() error {
	var missing []error
	if c.compositor == nil {
		missing = append(missing, errors.New("wl_compositor not advertised"))
	}
	if c.shm == nil {
		missing = append(missing, errors.New("wl_shm not advertised"))
	}
	if c.seat == nil {
		missing = append(missing, errors.New("wl_seat not advertised"))
	}
	if len(c.outputs) == 0 {
		missing = append(missing, errors.New("no wl_output advertised"))
	}
	if c.lockManager == nil {
		missing = append(missing, errors.New("ext_session_lock_manager_v1 not advertised"))
	}
	return errors.Join(missing...)
}

// readLoop pulls protocol messages once startup is done. Handlers run
// here and only enqueue; the loop goroutine drains the queue.
func (c *Client) readLoop() {
	for {
		if err := wlclient.DisplayDispatch(c.display); err != nil {
			if !c.closing.Load() {
				c.enqueue(func() {
					c.sink.HandleConnError(fmt.Errorf("display dispatch: %w", err))
				})
			}
			return
		}
	}
}

// Close disconnects from the compositor. The locker must have unlocked
// and synced first.
func (c *Client) Close() error {
	c.closing.Store(true)
	if c.display != nil {
		wlclient.DisplayDisconnect(c.display)
		c.display = nil
	}
	return unix.Close(c.queueFd)
}

func (c *Client) enqueue(fn func()) {
	c.queueMu.Lock()
	c.queue = append(c.queue, fn)
	c.queueMu.Unlock()
	c.wake()
}

func (c *Client) wake() {
	var buf [8]byte
	buf[0] = 1
	if _, err := unix.Write(c.queueFd, buf[:]); err != nil {
		c.log.Warn("wake dispatch queue", zap.Error(err))
	}
}

// Dispatch drains the event queue on the calling goroutine.
func (c *Client) Dispatch() {
	var buf [8]byte
	_, _ = unix.Read(c.queueFd, buf[:])
	for {
		c.queueMu.Lock()
		queued := c.queue
		c.queue = nil
		c.queueMu.Unlock()
		if len(queued) == 0 {
			return
		}
		for _, fn := range queued {
			fn()
		}
	}
}

// EventFd is readable whenever events are queued.
func (c *Client) EventFd() int {
	return c.queueFd
}

// Flush reports the first request error recorded since the previous
// call. Requests themselves are written eagerly.
func (c *Client) Flush() error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	err := c.reqErr
	c.reqErr = nil
	return err
}

// noteErr records a request error for the next Flush.
func (c *Client) noteErr(err error) {
	if err == nil {
		return
	}
	c.reqMu.Lock()
	if c.reqErr == nil {
		c.reqErr = err
	}
	c.reqMu.Unlock()
}

// Sync returns a channel closed once the compositor processed every
// request issued before the call.
func (c *Client) Sync() (<-chan struct{}, error) {
	callback, err := c.display.Sync()
	if err != nil {
		return nil, fmt.Errorf("display sync: %w", err)
	}
	done := make(chan struct{})
	callback.AddDoneHandler(callbackDoneFunc(func() {
		close(done)
	}))
	return done, nil
}

type callbackDoneFunc func()

func (f callbackDoneFunc) HandleCallbackDone(wl.CallbackDoneEvent) { f() }

// HandleRegistryGlobal queues the bind so requests stay on the dispatch
// goroutine even for globals announced after startup.
func (c *Client) HandleRegistryGlobal(ev wl.RegistryGlobalEvent) {
	name, iface, version := ev.Name, ev.Interface, ev.Version
	c.enqueue(func() {
		c.bindGlobal(name, iface, version)
	})
}

func (c *Client) bindGlobal(name uint32, iface string, version uint32) {
	switch iface {
	case "wl_compositor":
		if c.compositor == nil {
			c.compositor = wlclient.RegistryBindCompositorInterface(c.registry, name, min(version, 4))
		}
	case "wl_subcompositor":
		if c.subcompositor == nil {
			sub := wl.NewSubcompositor(c.display.Context())
			if err := c.registry.Bind(name, iface, 1, sub); err != nil {
				c.log.Warn("bind wl_subcompositor", zap.Error(err))
				return
			}
			c.subcompositor = sub
		}
	case "wl_shm":
		if c.shm == nil {
			c.shm = wlclient.RegistryBindShmInterface(c.registry, name, 1)
		}
	case "wl_seat":
		if c.seat == nil {
			c.seat = wlclient.RegistryBindSeatInterface(c.registry, name, min(version, 5))
			c.seat.AddCapabilitiesHandler(c)
		}
	case "wl_output":
		c.bindOutput(name, version)
	case "ext_session_lock_manager_v1":
		if c.lockManager == nil {
			c.lockManager = ext.BindSessionLockManager(c.registry, name, 1)
		}
	}
}

func (c *Client) bindOutput(name uint32, version uint32) {
	wlOutput := wlclient.RegistryBindOutputInterface(c.registry, name, min(version, 3))
	o := &output{c: c, wl: wlOutput, id: name}
	c.outputs[name] = o
	wlOutput.AddGeometryHandler(o)
	wlOutput.AddScaleHandler(o)
	wlOutput.AddDoneHandler(o)
	c.sink.HandleOutputAdded(o)
}

// HandleSeatCapabilities defers input setup to the dispatch goroutine.
func (c *Client) HandleSeatCapabilities(ev wl.SeatCapabilitiesEvent) {
	caps := ev.Capabilities
	c.enqueue(func() {
		c.setupInput(caps)
	})
}

func (c *Client) setupInput(caps uint32) {
	if caps&wl.SeatCapabilityKeyboard != 0 && c.keyboard == nil {
		keyboard, err := c.seat.GetKeyboard()
		if err != nil {
			c.log.Warn("get keyboard", zap.Error(err))
		} else {
			c.keyboard = keyboard
			keyboard.AddKeymapHandler(c)
			keyboard.AddKeyHandler(c)
			keyboard.AddModifiersHandler(c)
			keyboard.AddRepeatInfoHandler(c)
		}
	}
	if caps&wl.SeatCapabilityPointer != 0 && c.pointer == nil {
		pointer, err := c.seat.GetPointer()
		if err != nil {
			c.log.Warn("get pointer", zap.Error(err))
		} else {
			c.pointer = pointer
			pointer.AddEnterHandler(c)
		}
	}
}

func (c *Client) HandleKeyboardKeymap(ev wl.KeyboardKeymapEvent) {
	c.log.Debug("keyboard keymap",
		zap.Uint32("format", ev.Format),
		zap.Uint32("size", ev.Size))
}

func (c *Client) HandleKeyboardKey(ev wl.KeyboardKeyEvent) {
	key, state := ev.Key, ev.State
	c.enqueue(func() {
		c.sink.HandleKey(key, state == 1)
	})
}

func (c *Client) HandleKeyboardModifiers(ev wl.KeyboardModifiersEvent) {
	depressed, latched, locked := ev.ModsDepressed, ev.ModsLatched, ev.ModsLocked
	c.enqueue(func() {
		c.sink.HandleModifiers(depressed, latched, locked, 0)
	})
}

func (c *Client) HandleKeyboardRepeatInfo(ev wl.KeyboardRepeatInfoEvent) {
	rate, delay := ev.Rate, ev.Delay
	c.enqueue(func() {
		c.sink.HandleRepeatInfo(rate, delay)
	})
}

func (c *Client) HandlePointerEnter(ev wl.PointerEnterEvent) {
	serial := ev.Serial
	c.enqueue(func() {
		c.sink.HandlePointerEnter(serial)
	})
}

// HandleSessionLockLocked reports the compositor granting the lock.
func (c *Client) HandleSessionLockLocked(ext.SessionLockLockedEvent) {
	c.enqueue(func() {
		c.sink.HandleLocked()
	})
}

// HandleSessionLockFinished reports the compositor ending the lock.
func (c *Client) HandleSessionLockFinished(ext.SessionLockFinishedEvent) {
	c.enqueue(func() {
		c.sink.HandleLockFinished()
	})
}

// Lock requests the session lock and subscribes to its events.
func (c *Client) Lock() error {
	if c.lockManager == nil {
		return errors.New("no session lock manager bound")
	}
	lock, err := c.lockManager.Lock()
	if err != nil {
		return fmt.Errorf("request session lock: %w", err)
	}
	ext.SessionLockAddListener(lock, c)
	c.lock = lock
	return nil
}

// UnlockAndDestroy releases a granted lock.
func (c *Client) UnlockAndDestroy() error {
	if c.lock == nil {
		return errors.New("no session lock held")
	}
	err := c.lock.UnlockAndDestroy()
	c.lock = nil
	if err != nil {
		return fmt.Errorf("unlock session: %w", err)
	}
	return nil
}

// DestroyLock drops a lock that was never granted.
func (c *Client) DestroyLock() error {
	if c.lock == nil {
		return errors.New("no session lock held")
	}
	err := c.lock.Destroy()
	c.lock = nil
	if err != nil {
		return fmt.Errorf("destroy session lock: %w", err)
	}
	return nil
}

// CreateSurface creates a plain compositor surface.
func (c *Client) CreateSurface() (display.Surface, error) {
	s, err := c.compositor.CreateSurface()
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}
	return &surface{c: c, wl: s}, nil
}

// HasSubcompositor reports whether overlay subsurfaces are available.
func (c *Client) HasSubcompositor() bool {
	return c.subcompositor != nil
}

// CreateSubsurface ties child above parent. Subsurfaces start in
// synchronized mode, which is exactly what the overlay wants.
func (c *Client) CreateSubsurface(child, parent display.Surface) (display.Subsurface, error) {
	childSurface, ok := child.(*surface)
	if !ok {
		return nil, errors.New("child surface is not a wayland surface")
	}
	parentSurface, ok := parent.(*surface)
	if !ok {
		return nil, errors.New("parent surface is not a wayland surface")
	}
	sub, err := c.subcompositor.GetSubsurface(childSurface.wl, parentSurface.wl)
	if err != nil {
		return nil, fmt.Errorf("create subsurface: %w", err)
	}
	return &subsurface{c: c, wl: sub}, nil
}

// CreateLockSurface assigns the lock-surface role for an output.
func (c *Client) CreateLockSurface(s display.Surface, out display.Output) (display.LockSurface, error) {
	if c.lock == nil {
		return nil, errors.New("no session lock held")
	}
	wlSurface, ok := s.(*surface)
	if !ok {
		return nil, errors.New("surface is not a wayland surface")
	}
	wlOutput, ok := out.(*output)
	if !ok {
		return nil, errors.New("output is not a wayland output")
	}
	ls, err := c.lock.GetLockSurface(wlSurface.wl, wlOutput.wl)
	if err != nil {
		return nil, fmt.Errorf("get lock surface: %w", err)
	}
	ext.SessionLockSurfaceAddListener(ls, &lockSurfaceHandler{c: c, out: wlOutput})
	return &lockSurface{c: c, wl: ls}, nil
}

// CreateBuffer wraps caller-owned shared memory in a display buffer.
// The transient pool is destroyed right away; the buffer keeps the
// server-side mapping alive.
func (c *Client) CreateBuffer(fd int, size int, width, height, stride int32) (display.Buffer, error) {
	pool, err := c.shm.CreatePool(uintptr(fd), int32(size))
	if err != nil {
		return nil, fmt.Errorf("create shm pool: %w", err)
	}
	wlBuffer, err := pool.CreateBuffer(0, width, height, stride, wl.ShmFormatArgb8888)
	if err != nil {
		_ = pool.Destroy()
		return nil, fmt.Errorf("create shm buffer: %w", err)
	}
	if err := pool.Destroy(); err != nil {
		c.noteErr(err)
	}
	return &buffer{c: c, wl: wlBuffer}, nil
}

// HideCursor hides the pointer for the given enter serial.
func (c *Client) HideCursor(serial uint32) {
	if c.pointer == nil {
		return
	}
	c.noteErr(c.pointer.SetCursor(serial, nil, 0, 0))
}

// lockSurfaceHandler forwards configures together with the output the
// lock surface was created for.
type lockSurfaceHandler struct {
	c   *Client
	out *output
}

func (h *lockSurfaceHandler) HandleSessionLockSurfaceConfigure(ev ext.SessionLockSurfaceConfigureEvent) {
	serial, width, height := ev.Serial, ev.Width, ev.Height
	h.c.enqueue(func() {
		h.c.sink.HandleConfigure(h.out, serial, width, height)
	})
}

// output wraps a wl_output and forwards its description events.
type output struct {
	c  *Client
	wl *wl.Output
	id uint32
}

func (o *output) ID() uint32 {
	return o.id
}

// Release drops the adapter bookkeeping. The protocol object itself is
// reclaimed when the connection closes.
func (o *output) Release() {
	delete(o.c.outputs, o.id)
}

func (o *output) HandleOutputGeometry(ev wl.OutputGeometryEvent) {
	physW, physH := ev.PhysicalWidth, ev.PhysicalHeight
	name := strings.TrimSpace(ev.Make + " " + ev.Model)
	o.c.enqueue(func() {
		o.c.sink.HandleOutputGeometry(o, physW, physH)
		if name != "" {
			o.c.sink.HandleOutputName(o, name)
		}
	})
}

func (o *output) HandleOutputScale(ev wl.OutputScaleEvent) {
	factor := ev.Factor
	o.c.enqueue(func() {
		o.c.sink.HandleOutputScale(o, factor)
	})
}

func (o *output) HandleOutputDone(wl.OutputDoneEvent) {
	o.c.enqueue(func() {
		o.c.sink.HandleOutputDone(o)
	})
}
