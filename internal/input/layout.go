package input

import (
	"fmt"
	"strings"

	"github.com/jeeftor/vmcap/internal/capability"
)

// Keystroke is one key press, optionally with shift held.
type Keystroke struct {
	Code  uint16
	Shift bool
}

var plainRunes = map[rune]uint16{
	'a': capability.KeyA, 'b': capability.KeyB, 'c': capability.KeyC, 'd': capability.KeyD,
	'e': capability.KeyE, 'f': capability.KeyF, 'g': capability.KeyG, 'h': capability.KeyH,
	'i': capability.KeyI, 'j': capability.KeyJ, 'k': capability.KeyK, 'l': capability.KeyL,
	'm': capability.KeyM, 'n': capability.KeyN, 'o': capability.KeyO, 'p': capability.KeyP,
	'q': capability.KeyQ, 'r': capability.KeyR, 's': capability.KeyS, 't': capability.KeyT,
	'u': capability.KeyU, 'v': capability.KeyV, 'w': capability.KeyW, 'x': capability.KeyX,
	'y': capability.KeyY, 'z': capability.KeyZ,
	'0': capability.Key0, '1': capability.Key1, '2': capability.Key2, '3': capability.Key3,
	'4': capability.Key4, '5': capability.Key5, '6': capability.Key6, '7': capability.Key7,
	'8': capability.Key8, '9': capability.Key9,
	' ': capability.KeySpace, '\n': capability.KeyReturn, '\t': capability.KeyTab,
	'-': capability.KeyMinus, '=': capability.KeyEqual, '[': capability.KeyLeftBracket,
	']': capability.KeyRightBracket, '\\': capability.KeyBackslash, ';': capability.KeySemicolon,
	'\'': capability.KeyQuote, ',': capability.KeyComma, '.': capability.KeyPeriod,
	'/': capability.KeySlash, '`': capability.KeyGrave,
}

var shiftedRunes = map[rune]uint16{
	'!': capability.Key1, '@': capability.Key2, '#': capability.Key3, '$': capability.Key4,
	'%': capability.Key5, '^': capability.Key6, '&': capability.Key7, '*': capability.Key8,
	'(': capability.Key9, ')': capability.Key0, '_': capability.KeyMinus, '+': capability.KeyEqual,
	'{': capability.KeyLeftBracket, '}': capability.KeyRightBracket, '|': capability.KeyBackslash,
	':': capability.KeySemicolon, '"': capability.KeyQuote, '<': capability.KeyComma,
	'>': capability.KeyPeriod, '?': capability.KeySlash, '~': capability.KeyGrave,
}

// Keystrokes maps text to US-layout key presses.
func Keystrokes(text string) ([]Keystroke, error) {
	out := make([]Keystroke, 0, len(text))
	for i, r := range text {
		if code, ok := plainRunes[r]; ok {
			out = append(out, Keystroke{Code: code})
			continue
		}
		if code, ok := shiftedRunes[r]; ok {
			out = append(out, Keystroke{Code: code, Shift: true})
			continue
		}
		if r >= 'A' && r <= 'Z' {
			out = append(out, Keystroke{Code: plainRunes[r-'A'+'a'], Shift: true})
			continue
		}
		return nil, fmt.Errorf("character %q at offset %d has no key on a US layout", r, i)
	}
	return out, nil
}

var modifierKeys = map[uint16]bool{
	capability.KeyCommand: true, capability.KeyRightCommand: true,
	capability.KeyShift: true, capability.KeyRightShift: true,
	capability.KeyOption: true, capability.KeyRightOption: true,
	capability.KeyControl: true, capability.KeyRightControl: true,
	capability.KeyFunction: true,
}

// ParseChord parses "cmd+shift+4" style key names. Leading modifiers are
// returned in holding, the rest in codes. A lone modifier is a plain press.
func ParseChord(chord string) (codes, holding []uint16, err error) {
	parts := strings.Split(chord, "+")
	for i, part := range parts {
		code, ok := capability.KeyCodeByName(strings.TrimSpace(part))
		if !ok {
			return nil, nil, fmt.Errorf("unknown key %q", part)
		}
		if modifierKeys[code] && i < len(parts)-1 && len(codes) == 0 {
			holding = append(holding, code)
			continue
		}
		codes = append(codes, code)
	}
	return codes, holding, nil
}
