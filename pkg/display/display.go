// Package display defines the protocol-facing contract between the
// locker core and the Wayland adapter. The core drives these interfaces
// and never imports protocol types; the adapter implements them and
// forwards events through an EventSink.
package display

// Surface is a compositor surface. Requests do not report errors
// individually; a failed write is surfaced by the next Display.Flush.
type Surface interface {
	Attach(b Buffer)
	DamageAll()
	SetBufferScale(factor int32)

	// SetInputRegionEmpty makes the surface ignore all input so events
	// fall through to its parent.
	SetInputRegionEmpty()

	Commit()
	Destroy()
}

// Subsurface is the positioning relation tying an overlay surface above
// its parent.
type Subsurface interface {
	SetPosition(x, y int32)
	Destroy()
}

// Buffer is a display-visible pixel buffer.
type Buffer interface {
	// SetReleaseHandler registers fn to run, on the loop goroutine,
	// when the compositor no longer reads from the buffer.
	SetReleaseHandler(fn func())

	Destroy()
}

// LockSurface is the session-lock role of a surface on one output.
type LockSurface interface {
	AckConfigure(serial uint32)
	Destroy()
}

// Output is an opaque handle to a compositor output.
type Output interface {
	// ID is the registry name of the output, for logging.
	ID() uint32

	Release()
}

// BufferFactory creates display buffers over caller-owned shared
// memory. The caller keeps fd open for the lifetime of the buffer.
type BufferFactory interface {
	CreateBuffer(fd int, size int, width, height, stride int32) (Buffer, error)
}

// Display is everything the locker core needs from the protocol
// adapter.
type Display interface {
	BufferFactory

	// Flush pushes pending requests and reports the first request
	// error recorded since the previous call.
	Flush() error

	// Dispatch runs queued events on the calling goroutine.
	Dispatch()

	// EventFd returns a descriptor that is readable whenever events
	// are queued for Dispatch.
	EventFd() int

	// Sync returns a channel that is closed once the compositor has
	// processed every request issued before the call.
	Sync() (<-chan struct{}, error)

	CreateSurface() (Surface, error)

	// HasSubcompositor reports whether overlay subsurfaces are
	// available. When false the locker composites into one surface.
	HasSubcompositor() bool
	CreateSubsurface(child, parent Surface) (Subsurface, error)

	CreateLockSurface(s Surface, out Output) (LockSurface, error)

	// Lock requests the session lock. Locked or Finished events report
	// the outcome through the EventSink.
	Lock() error

	// UnlockAndDestroy releases an acquired lock; DestroyLock drops a
	// lock that was never granted.
	UnlockAndDestroy() error
	DestroyLock() error

	// HideCursor hides the pointer for the enter serial.
	HideCursor(serial uint32)
}

// EventSink receives protocol events. The adapter queues events as they
// arrive and Display.Dispatch delivers them, so every method runs on
// the loop goroutine.
type EventSink interface {
	HandleOutputAdded(out Output)
	HandleOutputGeometry(out Output, physWidthMM, physHeightMM int32)
	HandleOutputScale(out Output, factor int32)
	HandleOutputName(out Output, name string)
	HandleOutputDone(out Output)

	HandleLocked()
	HandleLockFinished()
	HandleConfigure(out Output, serial, width, height uint32)

	HandleKey(code uint32, pressed bool)
	HandleModifiers(depressed, latched, locked, group uint32)
	HandleRepeatInfo(rate, delay int32)
	HandlePointerEnter(serial uint32)

	// HandleConnError reports an unrecoverable connection failure.
	HandleConnError(err error)
}
