package qmp

import (
	"strings"
	"unicode"

	"github.com/jeeftor/vmcap/internal/capability"
)

// qcodes is the QKeyCode set of the QEMU en-us keymap.
var qcodes = func() map[string]bool {
	names := strings.Fields(`
		esc 1 2 3 4 5 6 7 8 9 0 minus equal backspace tab
		q w e r t y u i o p bracket_left bracket_right ret
		a s d f g h j k l semicolon apostrophe grave_accent backslash
		z x c v b n m comma dot slash
		shift shift_r ctrl ctrl_r alt alt_r meta_l meta_r caps_lock spc
		f1 f2 f3 f4 f5 f6 f7 f8 f9 f10 f11 f12
		num_lock scroll_lock kp_0 kp_1 kp_2 kp_3 kp_4 kp_5 kp_6 kp_7 kp_8 kp_9
		kp_multiply kp_subtract kp_add kp_decimal kp_enter kp_divide kp_equals kp_comma
		less ro hiragana henkan katakanahiragana muhenkan yen
		sysrq lf home up pgup left right end down pgdn insert delete
		audiomute volumedown volumeup power pause compose stop again props undo
		front copy open paste find cut help menu calculator sleep wake mail
		ac_bookmarks computer ac_back ac_forward audionext audioplay audioprev
		audiostop ac_home ac_refresh mediaselect`)
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}()

// IsQCode reports whether key is a QEMU QKeyCode name.
func IsQCode(key string) bool { return qcodes[key] }

var macToQCode = map[uint16]string{
	capability.KeyA: "a", capability.KeyB: "b", capability.KeyC: "c", capability.KeyD: "d",
	capability.KeyE: "e", capability.KeyF: "f", capability.KeyG: "g", capability.KeyH: "h",
	capability.KeyI: "i", capability.KeyJ: "j", capability.KeyK: "k", capability.KeyL: "l",
	capability.KeyM: "m", capability.KeyN: "n", capability.KeyO: "o", capability.KeyP: "p",
	capability.KeyQ: "q", capability.KeyR: "r", capability.KeyS: "s", capability.KeyT: "t",
	capability.KeyU: "u", capability.KeyV: "v", capability.KeyW: "w", capability.KeyX: "x",
	capability.KeyY: "y", capability.KeyZ: "z",
	capability.Key0: "0", capability.Key1: "1", capability.Key2: "2", capability.Key3: "3",
	capability.Key4: "4", capability.Key5: "5", capability.Key6: "6", capability.Key7: "7",
	capability.Key8: "8", capability.Key9: "9",

	capability.KeyMinus: "minus", capability.KeyEqual: "equal",
	capability.KeyLeftBracket: "bracket_left", capability.KeyRightBracket: "bracket_right",
	capability.KeyBackslash: "backslash", capability.KeySemicolon: "semicolon",
	capability.KeyQuote: "apostrophe", capability.KeyComma: "comma",
	capability.KeyPeriod: "dot", capability.KeySlash: "slash",
	capability.KeyGrave: "grave_accent", capability.KeySection: "less",

	capability.KeyReturn: "ret", capability.KeyTab: "tab", capability.KeySpace: "spc",
	capability.KeyDelete: "backspace", capability.KeyForwardDelete: "delete",
	capability.KeyEscape: "esc", capability.KeyCapsLock: "caps_lock",
	capability.KeyCommand: "meta_l", capability.KeyRightCommand: "meta_r",
	capability.KeyShift: "shift", capability.KeyRightShift: "shift_r",
	capability.KeyOption: "alt", capability.KeyRightOption: "alt_r",
	capability.KeyControl: "ctrl", capability.KeyRightControl: "ctrl_r",

	capability.KeyLeftArrow: "left", capability.KeyRightArrow: "right",
	capability.KeyUpArrow: "up", capability.KeyDownArrow: "down",
	capability.KeyHome: "home", capability.KeyEnd: "end",
	capability.KeyPageUp: "pgup", capability.KeyPageDown: "pgdn", capability.KeyHelp: "help",

	capability.KeyF1: "f1", capability.KeyF2: "f2", capability.KeyF3: "f3", capability.KeyF4: "f4",
	capability.KeyF5: "f5", capability.KeyF6: "f6", capability.KeyF7: "f7", capability.KeyF8: "f8",
	capability.KeyF9: "f9", capability.KeyF10: "f10", capability.KeyF11: "f11", capability.KeyF12: "f12",

	capability.KeyVolumeUp: "volumeup", capability.KeyVolumeDown: "volumedown",
	capability.KeyMute: "audiomute",

	capability.KeyKeypad0: "kp_0", capability.KeyKeypad1: "kp_1", capability.KeyKeypad2: "kp_2",
	capability.KeyKeypad3: "kp_3", capability.KeyKeypad4: "kp_4", capability.KeyKeypad5: "kp_5",
	capability.KeyKeypad6: "kp_6", capability.KeyKeypad7: "kp_7", capability.KeyKeypad8: "kp_8",
	capability.KeyKeypad9: "kp_9", capability.KeyKeypadDecimal: "kp_decimal",
	capability.KeyKeypadMultiply: "kp_multiply", capability.KeyKeypadPlus: "kp_add",
	capability.KeyKeypadMinus: "kp_subtract", capability.KeyKeypadDivide: "kp_divide",
	capability.KeyKeypadEnter: "kp_enter", capability.KeyKeypadEquals: "kp_equals",
	capability.KeyKeypadClear: "num_lock",
}

// QCodeForMacKey maps a macOS virtual key code to a QEMU qcode.
func QCodeForMacKey(code uint16) (string, bool) {
	q, ok := macToQCode[code]
	return q, ok
}

var keyAliases = map[string]string{
	"enter":     "ret",
	"return":    "ret",
	"space":     "spc",
	" ":         "spc",
	"escape":    "esc",
	"del":       "delete",
	"bksp":      "backspace",
	"cmd":       "meta_l",
	"command":   "meta_l",
	"super":     "meta_l",
	"meta":      "meta_l",
	"win":       "meta_l",
	"control":   "ctrl",
	"option":    "alt",
	"pageup":    "pgup",
	"pagedown":  "pgdn",
	"-":         "minus",
	"=":         "equal",
	"[":         "bracket_left",
	"]":         "bracket_right",
	"\\":        "backslash",
	"'":         "apostrophe",
	",":         "comma",
	".":         "dot",
	"/":         "slash",
	"`":         "grave_accent",
	";":         "semicolon",
	"\n":        "ret",
	"\t":        "tab",
}

var shiftedChars = map[string]string{
	":": "semicolon", "!": "1", "@": "2", "#": "3", "$": "4", "%": "5",
	"^": "6", "&": "7", "*": "8", "(": "9", ")": "0", "_": "minus",
	"+": "equal", "{": "bracket_left", "}": "bracket_right", "|": "backslash",
	"\"": "apostrophe", "<": "comma", ">": "dot", "?": "slash", "~": "grave_accent",
}

// ResolveKey turns a key name, a single character or a combination such as
// "ctrl-alt-del" or "cmd+q" into the qcodes to press together. It returns
// nil when nothing maps.
func ResolveKey(key string) []string {
	if alias, ok := keyAliases[strings.ToLower(key)]; ok {
		return []string{alias}
	}
	if base, ok := shiftedChars[key]; ok {
		return []string{"shift", base}
	}
	if IsQCode(key) {
		return []string{key}
	}

	if r := []rune(key); len(r) == 1 {
		if unicode.IsUpper(r[0]) && IsQCode(strings.ToLower(key)) {
			return []string{"shift", strings.ToLower(key)}
		}
		return nil
	}

	if strings.ContainsAny(key, "-+") {
		return parseKeyCombo(key)
	}
	if IsQCode(strings.ToLower(key)) {
		return []string{strings.ToLower(key)}
	}
	return nil
}

// parseKeyCombo splits a "-" or "+" separated combination. Any part that
// does not resolve to exactly one qcode makes the whole combination invalid.
func parseKeyCombo(combo string) []string {
	parts := strings.FieldsFunc(combo, func(r rune) bool { return r == '-' || r == '+' })
	if len(parts) < 2 {
		return nil
	}

	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		var k string
		switch {
		case keyAliases[part] != "":
			k = keyAliases[part]
		case IsQCode(part):
			k = part
		default:
			return nil
		}
		keys = append(keys, k)
	}
	return keys
}
