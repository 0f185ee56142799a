// Package auth checks password submissions on a dedicated worker
// goroutine so a slow PAM stack never blocks the event loop. The
// outcome of the latest check is published through a tri-state that is
// safe to read from any goroutine.
package auth

import (
	"fmt"
	"sync/atomic"
)

// State is the outcome of the most recent authentication attempt.
type State int32

const (
	// StateIdle means no attempt has completed since the last
	// submission was queued.
	StateIdle State = iota

	// StateSuccess means the password was accepted. Terminal.
	StateSuccess

	// StateFail means the password was rejected.
	StateFail
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSuccess:
		return "success"
	case StateFail:
		return "fail"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StateVar holds a State shared between the worker and the event loop.
// The zero value is StateIdle.
type StateVar struct {
	v atomic.Int32
}

func (s *StateVar) Load() State   { return State(s.v.Load()) }
func (s *StateVar) Store(v State) { s.v.Store(int32(v)) }

// CredentialChecker validates a password for a user. Implementations
// must not retain the password.
type CredentialChecker interface {
	Check(username string, password []byte, allowEmpty bool) error
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
