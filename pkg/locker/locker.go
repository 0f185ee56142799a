// Package locker implements the session lock state machine. It locks
// the session, presents a lock surface on every output, collects the
// password, verifies it through an authentication worker, and unlocks
// once a submission succeeds.
package locker

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MatthiasKunnen/deadbolt/pkg/auth"
	"github.com/MatthiasKunnen/deadbolt/pkg/config"
	"github.com/MatthiasKunnen/deadbolt/pkg/display"
	"github.com/MatthiasKunnen/deadbolt/pkg/keymap"
)

// unlockSyncTimeout bounds the wait for the compositor to process the
// unlock before the process exits.
const unlockSyncTimeout = 2 * time.Second

// Submitter queues password checks. Implemented by auth.Service.
type Submitter interface {
	Submit(password []byte) (<-chan error, bool)
}

// LockedHinter mirrors the lock state to the session manager. May be
// implemented over logind; a nil hinter disables mirroring.
type LockedHinter interface {
	SetLocked(locked bool) error
}

// Locker coordinates the lock session. All fields are confined to the
// loop goroutine except the atomics, which bridge results from the
// authentication worker and unlock requests from other goroutines.
type Locker struct {
	cfg     *config.Config
	disp    display.Display
	auth    Submitter
	bgImage image.Image
	hint    LockedHinter
	log     *zap.Logger

	loop   *eventLoop
	timers timerSet

	surfaces []*Surface
	password []byte
	mods     keymap.Modifiers
	repeat   repeatState

	authState      auth.StateVar
	authPending    atomic.Bool
	externalUnlock atomic.Bool

	running       bool
	locked        bool
	unlocked      bool
	lockRequested bool
	finishedEarly bool
	stateChanged  bool
	connErr       error
}

// New wires a locker over the given display. bgImage may be nil when
// the background is a plain color; hint may be nil.
func New(
	cfg *config.Config,
	disp display.Display,
	authService Submitter,
	bgImage image.Image,
	hint LockedHinter,
	log *zap.Logger,
) (*Locker, error) {
	loop, err := newEventLoop(disp.EventFd(), log)
	if err != nil {
		return nil, fmt.Errorf("create event loop: %w", err)
	}
	l := &Locker{
		cfg:      cfg,
		disp:     disp,
		auth:     authService,
		bgImage:  bgImage,
		hint:     hint,
		log:      log,
		loop:     loop,
		timers:   loop,
		password: make([]byte, 0, 64),
	}
	return l, nil
}

// Run locks the session and blocks until it is unlocked, the compositor
// ends the lock, or the connection fails. It must run on the goroutine
// that created the locker.
func (l *Locker) Run() error {
	defer l.loop.close()

	if err := l.disp.Lock(); err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	l.lockRequested = true
	l.running = true

	// Output events gathered during startup are still queued. Draining
	// them now, after the lock request, lets every known output get its
	// lock surface immediately.
	l.disp.Dispatch()

	for l.running {
		if err := l.cycle(); err != nil {
			l.log.Warn("event loop cycle failed", zap.Error(err))
		}
	}
	l.unlock()

	if l.finishedEarly {
		return errors.New("compositor denied the session lock")
	}
	if l.connErr != nil {
		return fmt.Errorf("display connection failed: %w", l.connErr)
	}
	return nil
}

// RequestUnlock ends the lock from outside the event loop, for example
// on a logind unlock signal. Safe to call from any goroutine.
func (l *Locker) RequestUnlock() {
	l.externalUnlock.Store(true)
	l.timers.notify()
}

// cycle flushes pending requests, delivers queued events, repaints when
// needed, and sleeps until the next readiness.
func (l *Locker) cycle() error {
	if err := l.disp.Flush(); err != nil {
		return fmt.Errorf("flush display: %w", err)
	}
	l.disp.Dispatch()
	l.maybeRender()
	if !l.running {
		return nil
	}

	tags, err := l.loop.wait()
	if err != nil {
		return err
	}
	for _, tag := range tags {
		switch tag {
		case tagWayland:
			l.disp.Dispatch()
		case tagKeyRepeat:
			l.repeatKey(l.loop.drainTimer(tagKeyRepeat))
		case tagStateNotify:
			l.loop.drainNotify()
			l.handleNotify()
		}
	}
	l.maybeRender()
	return nil
}

func (l *Locker) maybeRender() {
	if !l.stateChanged || !l.running {
		return
	}
	l.stateChanged = false
	l.renderAll()
}

func (l *Locker) renderAll() {
	state := l.authState.Load()
	pwLen := utf8.RuneCount(l.password)
	for _, s := range l.surfaces {
		if err := s.render(state, pwLen); err != nil {
			l.log.Warn("render failed",
				zap.String("output", s.name),
				zap.Error(err),
			)
		}
	}
}

// handleNotify reacts to cross-goroutine wakeups: authentication
// results and external unlock requests.
func (l *Locker) handleNotify() {
	if l.externalUnlock.Load() {
		l.log.Info("unlock requested externally")
		l.running = false
		return
	}
	switch l.authState.Load() {
	case auth.StateSuccess:
		l.log.Info("authentication succeeded")
		l.running = false
	case auth.StateFail:
		l.stateChanged = true
	}
}

// submitPassword hands the collected password to the worker. At most
// one submission is outstanding; further submit keys are dropped until
// the verdict arrived.
func (l *Locker) submitPassword() {
	if l.authPending.Load() {
		l.log.Debug("submission already pending, ignored")
		return
	}
	l.authState.Store(auth.StateIdle)
	pwd := append([]byte(nil), l.password...)
	l.clearPassword()
	reply, ok := l.auth.Submit(pwd)
	if !ok {
		l.log.Warn("authenticator rejected submission")
		l.authState.Store(auth.StateFail)
		l.stateChanged = true
		return
	}
	l.authPending.Store(true)
	go func() {
		err := <-reply
		if err != nil {
			l.authState.Store(auth.StateFail)
		} else {
			l.authState.Store(auth.StateSuccess)
		}
		l.authPending.Store(false)
		l.timers.notify()
	}()
}

// unlock releases the session lock, destroys the surfaces, and waits
// for the compositor to process it so the session is usable the moment
// the process exits.
func (l *Locker) unlock() {
	if l.unlocked {
		return
	}
	l.unlocked = true

	if l.locked {
		if err := l.disp.UnlockAndDestroy(); err != nil {
			l.log.Warn("unlock session", zap.Error(err))
		}
	} else if l.lockRequested {
		if err := l.disp.DestroyLock(); err != nil {
			l.log.Warn("destroy session lock", zap.Error(err))
		}
	}
	for _, s := range l.surfaces {
		s.destroy()
	}
	l.surfaces = nil
	l.clearPassword()

	done, err := l.disp.Sync()
	if err != nil {
		l.log.Warn("sync display", zap.Error(err))
		return
	}
	select {
	case <-done:
	case <-time.After(unlockSyncTimeout):
		l.log.Warn("timed out waiting for unlock to be processed")
	}
	l.locked = false
}

// HandleOutputAdded registers a new output. Its surface is created once
// the output's initial burst of events ends.
func (l *Locker) HandleOutputAdded(out display.Output) {
	l.surfaces = append(l.surfaces, newSurface(out, l.disp, l.cfg, l.bgImage, l.log))
	l.log.Debug("output added", zap.Uint32("output", out.ID()))
}

func (l *Locker) HandleOutputGeometry(out display.Output, physWidthMM, physHeightMM int32) {
	if s := l.findSurface(out); s != nil {
		s.physW = physWidthMM
		s.physH = physHeightMM
	}
}

func (l *Locker) HandleOutputScale(out display.Output, factor int32) {
	if s := l.findSurface(out); s != nil && factor > 0 {
		s.scale = factor
	}
}

func (l *Locker) HandleOutputName(out display.Output, name string) {
	if s := l.findSurface(out); s != nil {
		s.name = name
	}
}

// HandleOutputDone creates the lock surface for the output. Creation
// waits for the done event so scale and geometry are known, and for the
// lock request so the role can be assigned.
func (l *Locker) HandleOutputDone(out display.Output) {
	s := l.findSurface(out)
	if s == nil || !l.lockRequested {
		return
	}
	if err := s.create(); err != nil {
		l.log.Warn("cannot present on output",
			zap.String("output", s.name),
			zap.Error(err),
		)
	}
}

func (l *Locker) HandleConfigure(out display.Output, serial, width, height uint32) {
	s := l.findSurface(out)
	if s == nil {
		return
	}
	s.configure(serial, width, height, l.authState.Load(), utf8.RuneCount(l.password))
}

// HandleLocked marks the lock as held by the compositor.
func (l *Locker) HandleLocked() {
	l.locked = true
	l.log.Info("session locked")
	if l.hint != nil {
		if err := l.hint.SetLocked(true); err != nil {
			l.log.Warn("set locked hint", zap.Error(err))
		}
	}
}

// HandleLockFinished ends the lock. Before a locked event this means
// the compositor denied the lock, usually because another locker holds
// it.
func (l *Locker) HandleLockFinished() {
	if !l.locked {
		l.finishedEarly = true
		l.log.Error("compositor denied the session lock")
	} else {
		l.log.Info("compositor finished the session lock")
	}
	l.running = false
}

func (l *Locker) HandleConnError(err error) {
	if l.connErr == nil {
		l.connErr = err
	}
	l.running = false
}

func (l *Locker) findSurface(out display.Output) *Surface {
	for _, s := range l.surfaces {
		if s.out == out {
			return s
		}
	}
	return nil
}

// appendRune grows the password without leaving fragments behind: when
// the buffer must grow, the old array is zeroed after the copy.
func (l *Locker) appendRune(r rune) {
	var enc [4]byte
	n := utf8.EncodeRune(enc[:], r)
	if len(l.password)+n > cap(l.password) {
		grown := make([]byte, len(l.password), 2*cap(l.password)+n)
		copy(grown, l.password)
		zeroBytes(l.password)
		l.password = grown
	}
	l.password = append(l.password, enc[:n]...)
}

// eraseRune removes and zeroes the last rune of the password.
func (l *Locker) eraseRune() {
	n := len(l.password)
	if n == 0 {
		return
	}
	_, size := utf8.DecodeLastRune(l.password)
	zeroBytes(l.password[n-size:])
	l.password = l.password[:n-size]
}

func (l *Locker) clearPassword() {
	zeroBytes(l.password)
	l.password = l.password[:0]
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
