// Package keymap translates evdev key codes, as delivered by
// wl_keyboard key events, into password edit actions and text. It
// implements a fixed US layout instead of compiling the keymap the
// compositor advertises; keys outside the table are ignored, which is
// acceptable for password input.
package keymap

import "unicode"

// Action classifies a key press for the password prompt.
type Action int

const (
	// ActionNone ignores the key.
	ActionNone Action = iota

	// ActionText appends the translated rune to the password.
	ActionText

	// ActionSubmit submits the password for authentication.
	ActionSubmit

	// ActionErase removes the last rune of the password.
	ActionErase
)

// Key is the translation of a single key press. Rune is set only for
// ActionText.
type Key struct {
	Action Action
	Rune   rune
}

// Modifiers is the effective modifier state of the keyboard.
type Modifiers struct {
	Shift bool
	Caps  bool
	Ctrl  bool
}

// xkb encodes these modifiers at fixed positions in practice.
const (
	maskShift   = 1 << 0
	maskLock    = 1 << 1
	maskControl = 1 << 2
)

// FromMasks derives the effective modifier state from the masks of a
// wl_keyboard modifiers event.
func FromMasks(depressed, latched, locked uint32) Modifiers {
	eff := depressed | latched | locked
	return Modifiers{
		Shift: eff&maskShift != 0,
		Caps:  eff&maskLock != 0,
		Ctrl:  eff&maskControl != 0,
	}
}

const (
	codeEnter     = 28
	codeKPEnter   = 96
	codeBackspace = 14
	codeDelete    = 111
)

// Translate maps an evdev key code under the given modifier state.
// Control chords produce no action.
func Translate(code uint32, mods Modifiers) Key {
	switch code {
	case codeEnter, codeKPEnter:
		return Key{Action: ActionSubmit}
	case codeBackspace, codeDelete:
		return Key{Action: ActionErase}
	}
	if mods.Ctrl {
		return Key{}
	}
	r, ok := runeFor(code, mods)
	if !ok {
		return Key{}
	}
	return Key{Action: ActionText, Rune: r}
}

type pair struct {
	base    rune
	shifted rune
}

var printable = map[uint32]pair{
	2:  {'1', '!'},
	3:  {'2', '@'},
	4:  {'3', '#'},
	5:  {'4', '$'},
	6:  {'5', '%'},
	7:  {'6', '^'},
	8:  {'7', '&'},
	9:  {'8', '*'},
	10: {'9', '('},
	11: {'0', ')'},
	12: {'-', '_'},
	13: {'=', '+'},
	26: {'[', '{'},
	27: {']', '}'},
	39: {';', ':'},
	40: {'\'', '"'},
	41: {'`', '~'},
	43: {'\\', '|'},
	51: {',', '<'},
	52: {'.', '>'},
	53: {'/', '?'},
	57: {' ', ' '},
}

// Keypad keys assume an active num lock, the common state during
// password entry.
var keypad = map[uint32]rune{
	55: '*',
	71: '7',
	72: '8',
	73: '9',
	74: '-',
	75: '4',
	76: '5',
	77: '6',
	78: '+',
	79: '1',
	80: '2',
	81: '3',
	82: '0',
	83: '.',
	98: '/',
}

func init() {
	rows := []struct {
		start uint32
		keys  string
	}{
		{16, "qwertyuiop"},
		{30, "asdfghjkl"},
		{44, "zxcvbnm"},
	}
	for _, row := range rows {
		for i, r := range row.keys {
			printable[row.start+uint32(i)] = pair{r, unicode.ToUpper(r)}
		}
	}
}

func runeFor(code uint32, mods Modifiers) (rune, bool) {
	if r, ok := keypad[code]; ok {
		return r, true
	}
	p, ok := printable[code]
	if !ok {
		return 0, false
	}
	upper := mods.Shift
	if unicode.IsLetter(p.base) {
		// Caps lock inverts shift for letters only.
		upper = mods.Shift != mods.Caps
	}
	if upper {
		return p.shifted, true
	}
	return p.base, true
}
