package auth

import (
	"errors"
	"fmt"
	"os/user"
	"sync"

	"go.uber.org/zap"
)

// request carries one password submission. reply receives exactly one
// result.
type request struct {
	password []byte
	reply    chan<- error
}

// Service owns the authentication worker. Create it with New and stop
// it with Close.
type Service struct {
	username   string
	allowEmpty bool
	checker    CredentialChecker
	requests   chan request
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	log        *zap.Logger
}

// New resolves the user to authenticate and starts the worker. It fails
// when the current user cannot be determined, since no submission could
// ever succeed.
func New(checker CredentialChecker, allowEmpty bool, log *zap.Logger) (*Service, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	if u.Username == "" {
		return nil, errors.New("current user has no name")
	}
	s := &Service{
		username:   u.Username,
		allowEmpty: allowEmpty,
		checker:    checker,
		requests:   make(chan request, 32),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
	go s.run()
	return s, nil
}

// Submit queues a password check. The service takes ownership of
// password and zeroes it once the check completed. The returned channel
// receives exactly one result. Submit reports false, after zeroing
// password, when the service is closed or the queue is full.
func (s *Service) Submit(password []byte) (<-chan error, bool) {
	select {
	case <-s.quit:
		zero(password)
		return nil, false
	default:
	}
	reply := make(chan error, 1)
	select {
	case s.requests <- request{password: password, reply: reply}:
		return reply, true
	default:
		zero(password)
		return nil, false
	}
}

// Close stops the worker. A check already in progress still completes.
func (s *Service) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return nil
}

func (s *Service) run() {
	defer close(s.done)
	s.log.Info("running authenticator", zap.String("username", s.username))

	succeeded := false
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.requests:
			if succeeded {
				// The first success unlocks; later submissions are
				// answered from the latched state without another
				// check.
				zero(req.password)
				req.reply <- nil
				continue
			}
			err := s.checker.Check(s.username, req.password, s.allowEmpty)
			zero(req.password)
			if err != nil {
				s.log.Warn("authentication failed", zap.Error(err))
				req.reply <- err
				continue
			}
			succeeded = true
			req.reply <- nil
		}
	}
}
