package locker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Tags identify readiness sources in the epoll data field.
const (
	tagWayland     = 0
	tagKeyRepeat   = 1
	tagStateNotify = 2
)

// timerSet arms and disarms loop timers and wakes the loop from other
// goroutines. Split out so key handling can be tested without file
// descriptors.
type timerSet interface {
	setTimer(tag int32, delay, interval time.Duration) error
	unsetTimer(tag int32)
	notify()
}

type timerSlot struct {
	fd  int
	tag int32
}

// eventLoop multiplexes the display connection, repeat timers, and
// cross-goroutine notifications over one epoll instance.
type eventLoop struct {
	epollFd  int
	notifyFd int
	timers   []timerSlot
	closed   bool
	log      *zap.Logger
}

func newEventLoop(connFd int, log *zap.Logger) (*eventLoop, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	notifyFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epollFd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	l := &eventLoop{epollFd: epollFd, notifyFd: notifyFd, log: log}
	if err := l.register(connFd, tagWayland); err != nil {
		l.close()
		return nil, err
	}
	if err := l.register(notifyFd, tagStateNotify); err != nil {
		l.close()
		return nil, err
	}
	return l, nil
}

func (l *eventLoop) register(fd int, tag int32) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: tag}
	if err := unix.EpollCtl(l.epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add: %w", err)
	}
	return nil
}

// wait blocks until at least one source is ready and returns the tags
// of the ready sources. An interrupted wait returns no tags.
func (l *eventLoop) wait() ([]int32, error) {
	var events [8]unix.EpollEvent
	n, err := unix.EpollWait(l.epollFd, events[:], -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	tags := make([]int32, 0, n)
	for _, ev := range events[:n] {
		tags = append(tags, ev.Fd)
	}
	return tags, nil
}

// setTimer arms a timer under tag that first fires after delay and then
// every interval. A zero delay starts at one interval.
func (l *eventLoop) setTimer(tag int32, delay, interval time.Duration) error {
	if delay <= 0 {
		delay = interval
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
		Value:    unix.NsecToTimespec(delay.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	if err := l.register(fd, tag); err != nil {
		_ = unix.Close(fd)
		return err
	}
	l.timers = append(l.timers, timerSlot{fd: fd, tag: tag})
	return nil
}

// unsetTimer disarms and closes every timer registered under tag.
func (l *eventLoop) unsetTimer(tag int32) {
	kept := l.timers[:0]
	for _, t := range l.timers {
		if t.tag != tag {
			kept = append(kept, t)
			continue
		}
		_ = unix.EpollCtl(l.epollFd, unix.EPOLL_CTL_DEL, t.fd, nil)
		_ = unix.Close(t.fd)
	}
	l.timers = kept
}

// drainTimer consumes the expiration counters of every timer under tag
// and returns the total number of missed ticks.
func (l *eventLoop) drainTimer(tag int32) uint64 {
	var total uint64
	var buf [8]byte
	for _, t := range l.timers {
		if t.tag != tag {
			continue
		}
		n, err := unix.Read(t.fd, buf[:])
		if err != nil || n != 8 {
			continue
		}
		total += binary.NativeEndian.Uint64(buf[:])
	}
	return total
}

// notify wakes the loop. Safe to call from any goroutine.
func (l *eventLoop) notify() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(l.notifyFd, buf[:]); err != nil {
		l.log.Warn("wake event loop", zap.Error(err))
	}
}

// drainNotify resets the notification counter.
func (l *eventLoop) drainNotify() {
	var buf [8]byte
	_, _ = unix.Read(l.notifyFd, buf[:])
}

func (l *eventLoop) close() {
	if l.closed {
		return
	}
	l.closed = true
	for _, t := range l.timers {
		_ = unix.Close(t.fd)
	}
	l.timers = nil
	_ = unix.Close(l.notifyFd)
	_ = unix.Close(l.epollFd)
}
