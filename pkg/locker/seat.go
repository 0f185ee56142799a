package locker

import (
	"time"

	"go.uber.org/zap"

	"github.com/MatthiasKunnen/deadbolt/pkg/keymap"
)

// repeatState tracks the key-repeat parameters and the armed timer.
type repeatState struct {
	rate  int32 // characters per second
	delay int32 // milliseconds before the first repeat
	code  uint32
	armed bool
}

// HandleKey processes one keyboard key event. Any key event disarms an
// armed repeat; a press is applied and, when the compositor advertised
// a repeat rate, arms the timer for the new key.
func (l *Locker) HandleKey(code uint32, pressed bool) {
	if l.repeat.armed {
		l.timers.unsetTimer(tagKeyRepeat)
		l.repeat.armed = false
	}
	if !pressed {
		return
	}
	l.processKey(code)
	if l.repeat.rate > 0 {
		delay := time.Duration(l.repeat.delay) * time.Millisecond
		interval := time.Second / time.Duration(l.repeat.rate)
		if err := l.timers.setTimer(tagKeyRepeat, delay, interval); err != nil {
			l.log.Warn("arm key repeat", zap.Error(err))
			return
		}
		l.repeat.code = code
		l.repeat.armed = true
	}
}

func (l *Locker) HandleModifiers(depressed, latched, locked, group uint32) {
	_ = group
	l.mods = keymap.FromMasks(depressed, latched, locked)
}

// HandleRepeatInfo stores the repeat parameters of the keyboard. A rate
// of zero disables repeat.
func (l *Locker) HandleRepeatInfo(rate, delay int32) {
	l.repeat.rate = rate
	l.repeat.delay = delay
}

// HandlePointerEnter hides the cursor over lock surfaces when
// configured to.
func (l *Locker) HandlePointerEnter(serial uint32) {
	if l.cfg.General.HideCursor {
		l.disp.HideCursor(serial)
	}
}

// processKey translates and applies one key press. Every press marks
// the state changed so the surfaces repaint.
func (l *Locker) processKey(code uint32) {
	key := keymap.Translate(code, l.mods)
	switch key.Action {
	case keymap.ActionSubmit:
		l.submitPassword()
	case keymap.ActionErase:
		l.eraseRune()
	case keymap.ActionText:
		l.appendRune(key.Rune)
	}
	l.stateChanged = true
}

// repeatKey replays the held key once per missed timer tick.
func (l *Locker) repeatKey(ticks uint64) {
	if !l.repeat.armed {
		return
	}
	for range ticks {
		l.processKey(l.repeat.code)
	}
}
