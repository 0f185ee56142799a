package lockhint

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Session is the logind session the locker runs in. It is safe to call
// Session's methods concurrently.
type Session struct {
	conn          *dbus.Conn
	sessionObject dbus.BusObject

	muSignals     sync.Mutex
	unlockSignals map[chan<- struct{}]struct{}
	unlockActive  bool

	stopWatcher chan struct{}
	closeOnce   sync.Once
}

// NewSession connects to the system bus and resolves the session object
// for the given session ID, usually the XDG_SESSION_ID env var.
func NewSession(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("session ID is empty")
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	sessionObject, err := findSessionObject(conn, sessionID)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Session{
		conn:          conn,
		sessionObject: sessionObject,
		unlockSignals: make(map[chan<- struct{}]struct{}),
		stopWatcher:   make(chan struct{}),
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	go s.watch(signals)

	return s, nil
}

func findSessionObject(conn *dbus.Conn, sessionID string) (dbus.BusObject, error) {
	var sessions []interface{}
	err := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1").
		Call("org.freedesktop.login1.Manager.ListSessions", 0).
		Store(&sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	for i, sessionInt := range sessions {
		session, ok := sessionInt.([]interface{})
		if !ok {
			return nil, fmt.Errorf("session %d is not an array of interface: %+v", i, sessionInt)
		}
		currentID, ok := session[0].(string)
		if !ok {
			return nil, fmt.Errorf("session %d[0] is not a string: %+v", i, session[0])
		}

		if currentID != sessionID {
			continue
		}

		sessionPath, ok := session[4].(dbus.ObjectPath)
		if !ok {
			return nil, fmt.Errorf("session %d[4] is not an ObjectPath: %+v", i, session[4])
		}

		return conn.Object("org.freedesktop.login1", sessionPath), nil
	}

	return nil, fmt.Errorf("session %q not found", sessionID)
}

// SetLocked updates the session's LockedHint property.
func (s *Session) SetLocked(locked bool) error {
	err := s.sessionObject.
		Call("org.freedesktop.login1.Session.SetLockedHint", 0, locked).Err
	if err != nil {
		return fmt.Errorf("could not set locked hint: %w", err)
	}

	return nil
}

// AddUnlockSignal registers a channel that is notified when the
// session's "Unlock" signal is received, meaning something like
// `loginctl unlock-session` asked for the lock to end.
//
// Writing to the channel does not block; use a buffered channel to
// avoid missing a signal.
func (s *Session) AddUnlockSignal(c chan<- struct{}) error {
	if c == nil {
		return errors.New("AddUnlockSignal: channel cannot be nil")
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()
	s.unlockSignals[c] = struct{}{}

	if !s.unlockActive {
		if err := s.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(s.sessionObject.Path()),
			dbus.WithMatchInterface("org.freedesktop.login1.Session"),
			dbus.WithMatchSender("org.freedesktop.login1"),
			dbus.WithMatchMember("Unlock"),
		); err != nil {
			return fmt.Errorf("failed to register Unlock signal match: %w", err)
		}

		s.unlockActive = true
	}

	return nil
}

// RemoveUnlockSignal unregisters a channel previously registered with
// AddUnlockSignal. It can be safely called with an unregistered
// channel.
func (s *Session) RemoveUnlockSignal(c chan<- struct{}) error {
	if c == nil {
		return errors.New("RemoveUnlockSignal: channel cannot be nil")
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	delete(s.unlockSignals, c)

	if len(s.unlockSignals) == 0 {
		return s.removeUnlockMatch()
	}

	return nil
}

// removeUnlockMatch removes the Unlock signal match if it was
// registered. Holding muSignals is required.
func (s *Session) removeUnlockMatch() error {
	if !s.unlockActive {
		return nil
	}

	if err := s.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(s.sessionObject.Path()),
		dbus.WithMatchInterface("org.freedesktop.login1.Session"),
		dbus.WithMatchSender("org.freedesktop.login1"),
		dbus.WithMatchMember("Unlock"),
	); err != nil {
		return fmt.Errorf("failed to remove Unlock signal match: %w", err)
	}

	s.unlockActive = false

	return nil
}

// Close unregisters the signal match, stops the watcher, and closes the
// bus connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.muSignals.Lock()
		clear(s.unlockSignals)
		err = s.removeUnlockMatch()
		s.muSignals.Unlock()

		close(s.stopWatcher)
		err = errors.Join(err, s.conn.Close())
	})
	return err
}

func (s *Session) watch(signals chan *dbus.Signal) {
	for {
		select {
		case <-s.stopWatcher:
			s.conn.RemoveSignal(signals)
			return
		case sig := <-signals:
			s.deliver(sig)
		}
	}
}

func (s *Session) deliver(sig *dbus.Signal) {
	if sig == nil {
		// Happens when the connection closes.
		return
	}

	if sig.Path != s.sessionObject.Path() {
		return
	}

	if sig.Name != "org.freedesktop.login1.Session.Unlock" {
		return
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	for c := range s.unlockSignals {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}
