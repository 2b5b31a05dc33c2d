package layout

import (
	"unicode"

	"github.com/jullanggit/keylogger/internal/keystroke"
)

// Decoder translates key transitions into characters using a Keymap.
// It is not safe for concurrent use; one goroutine owns it.
type Decoder struct {
	keymap *Keymap

	held     map[uint16]bool
	capsLock bool
	numLock  bool
	pending  string // dead key waiting for the next character
}

// NewDecoder creates a decoder with all modifiers released and locks off.
func NewDecoder(k *Keymap) *Decoder {
	return &Decoder{
		keymap: k,
		held:   make(map[uint16]bool),
	}
}

// Keymap returns the decoder's keymap.
func (d *Decoder) Keymap() *Keymap {
	return d.keymap
}

// CapsLock reports whether caps lock is on.
func (d *Decoder) CapsLock() bool {
	return d.capsLock
}

// Translate feeds one transition to the decoder and returns the character
// it produced, if any. Modifier state is updated on every transition;
// characters are only produced on Press. A key pressed while Control, left
// Alt or Meta is held is a shortcut and yields nothing.
func (d *Decoder) Translate(code uint16, t keystroke.Transition) (rune, bool) {
	down := t != keystroke.Release

	switch code {
	case keyLeftShift, keyRightShift, keyLeftCtrl, keyRightCtrl,
		keyLeftAlt, keyRightAlt, keyLeftMeta, keyRightMeta:
		d.held[code] = down
		return 0, false
	case keyCapsLock:
		if t == keystroke.Press {
			d.capsLock = !d.capsLock
		}
		return 0, false
	case keyNumLock:
		if t == keystroke.Press {
			d.numLock = !d.numLock
		}
		return 0, false
	}

	if t != keystroke.Press {
		return 0, false
	}
	if d.held[keyLeftCtrl] || d.held[keyRightCtrl] || d.held[keyLeftAlt] ||
		d.held[keyLeftMeta] || d.held[keyRightMeta] {
		return 0, false
	}

	shift := d.held[keyLeftShift] || d.held[keyRightShift]
	sym, ok := d.keymap.lookup(code, shift, d.held[keyRightAlt], d.capsLock, d.numLock)
	if !ok {
		return 0, false
	}
	return d.compose(sym)
}

// Reset clears held keys, locks and any pending dead key.
func (d *Decoder) Reset() {
	clear(d.held)
	d.capsLock = false
	d.numLock = false
	d.pending = ""
}

func (d *Decoder) compose(s symbol) (rune, bool) {
	if s.dead != "" {
		if d.pending == s.dead {
			d.pending = ""
			return d.keymap.dead[s.dead].spacing, true
		}
		d.pending = s.dead
		return 0, false
	}

	if d.pending == "" {
		return s.r, true
	}

	dk := d.keymap.dead[d.pending]
	d.pending = ""
	if s.r == ' ' {
		return dk.spacing, true
	}
	if c, ok := dk.compose[s.r]; ok {
		return c, true
	}
	return s.r, true
}

// lookup picks the level the modifiers select. Keys with one or two levels
// ignore AltGr; caps lock acts as shift on keys whose first two levels are
// a lower/upper case pair; shift inverts num lock on the keypad.
func (k *Keymap) lookup(code uint16, shift, altgr, caps, num bool) (symbol, bool) {
	if r, ok := k.numpad[code]; ok {
		if num != shift {
			return symbol{r: r}, true
		}
		return symbol{}, false
	}

	levels, ok := k.keys[code]
	if !ok {
		return symbol{}, false
	}

	hasAltGr := len(levels) > 2 && altgr
	if caps && !hasAltGr && len(levels) >= 2 && isCasePair(levels[0], levels[1]) {
		shift = !shift
	}

	idx := 0
	if shift {
		idx = 1
	}
	if hasAltGr {
		idx += 2
	}
	if idx >= len(levels) {
		if len(levels) > 2 {
			return symbol{}, false
		}
		idx = len(levels) - 1
	}

	s := levels[idx]
	if s.none() {
		return symbol{}, false
	}
	return s, true
}

func isCasePair(lower, upper symbol) bool {
	return lower.dead == "" && upper.dead == "" &&
		unicode.IsLower(lower.r) && unicode.ToUpper(lower.r) == upper.r
}
