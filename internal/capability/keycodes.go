package capability

import (
	"fmt"
	"sort"
	"strings"
)

// macOS virtual key codes, ANSI layout.
const (
	KeyA            uint16 = 0x00
	KeyS            uint16 = 0x01
	KeyD            uint16 = 0x02
	KeyF            uint16 = 0x03
	KeyH            uint16 = 0x04
	KeyG            uint16 = 0x05
	KeyZ            uint16 = 0x06
	KeyX            uint16 = 0x07
	KeyC            uint16 = 0x08
	KeyV            uint16 = 0x09
	KeySection      uint16 = 0x0A
	KeyB            uint16 = 0x0B
	KeyQ            uint16 = 0x0C
	KeyW            uint16 = 0x0D
	KeyE            uint16 = 0x0E
	KeyR            uint16 = 0x0F
	KeyY            uint16 = 0x10
	KeyT            uint16 = 0x11
	Key1            uint16 = 0x12
	Key2            uint16 = 0x13
	Key3            uint16 = 0x14
	Key4            uint16 = 0x15
	Key6            uint16 = 0x16
	Key5            uint16 = 0x17
	KeyEqual        uint16 = 0x18
	Key9            uint16 = 0x19
	Key7            uint16 = 0x1A
	KeyMinus        uint16 = 0x1B
	Key8            uint16 = 0x1C
	Key0            uint16 = 0x1D
	KeyRightBracket uint16 = 0x1E
	KeyO            uint16 = 0x1F
	KeyU            uint16 = 0x20
	KeyLeftBracket  uint16 = 0x21
	KeyI            uint16 = 0x22
	KeyP            uint16 = 0x23
	KeyReturn       uint16 = 0x24
	KeyL            uint16 = 0x25
	KeyJ            uint16 = 0x26
	KeyQuote        uint16 = 0x27
	KeyK            uint16 = 0x28
	KeySemicolon    uint16 = 0x29
	KeyBackslash    uint16 = 0x2A
	KeyComma        uint16 = 0x2B
	KeySlash        uint16 = 0x2C
	KeyN            uint16 = 0x2D
	KeyM            uint16 = 0x2E
	KeyPeriod       uint16 = 0x2F
	KeyTab          uint16 = 0x30
	KeySpace        uint16 = 0x31
	KeyGrave        uint16 = 0x32
	KeyDelete       uint16 = 0x33
	KeyEscape       uint16 = 0x35
	KeyRightCommand uint16 = 0x36
	KeyCommand      uint16 = 0x37
	KeyShift        uint16 = 0x38
	KeyCapsLock     uint16 = 0x39
	KeyOption       uint16 = 0x3A
	KeyControl      uint16 = 0x3B
	KeyRightShift   uint16 = 0x3C
	KeyRightOption  uint16 = 0x3D
	KeyRightControl uint16 = 0x3E
	KeyFunction     uint16 = 0x3F

	KeyKeypadDecimal  uint16 = 0x41
	KeyKeypadMultiply uint16 = 0x43
	KeyKeypadPlus     uint16 = 0x45
	KeyKeypadClear    uint16 = 0x47
	KeyVolumeUp       uint16 = 0x48
	KeyVolumeDown     uint16 = 0x49
	KeyMute           uint16 = 0x4A
	KeyKeypadDivide   uint16 = 0x4B
	KeyKeypadEnter    uint16 = 0x4C
	KeyKeypadMinus    uint16 = 0x4E
	KeyKeypadEquals   uint16 = 0x51
	KeyKeypad0        uint16 = 0x52
	KeyKeypad1        uint16 = 0x53
	KeyKeypad2        uint16 = 0x54
	KeyKeypad3        uint16 = 0x55
	KeyKeypad4        uint16 = 0x56
	KeyKeypad5        uint16 = 0x57
	KeyKeypad6        uint16 = 0x58
	KeyKeypad7        uint16 = 0x59
	KeyKeypad8        uint16 = 0x5B
	KeyKeypad9        uint16 = 0x5C

	KeyF5            uint16 = 0x60
	KeyF6            uint16 = 0x61
	KeyF7            uint16 = 0x62
	KeyF3            uint16 = 0x63
	KeyF8            uint16 = 0x64
	KeyF9            uint16 = 0x65
	KeyF11           uint16 = 0x67
	KeyF10           uint16 = 0x6D
	KeyF12           uint16 = 0x6F
	KeyHelp          uint16 = 0x72
	KeyHome          uint16 = 0x73
	KeyPageUp        uint16 = 0x74
	KeyForwardDelete uint16 = 0x75
	KeyF4            uint16 = 0x76
	KeyEnd           uint16 = 0x77
	KeyF2            uint16 = 0x78
	KeyPageDown      uint16 = 0x79
	KeyF1            uint16 = 0x7A
	KeyLeftArrow     uint16 = 0x7B
	KeyRightArrow    uint16 = 0x7C
	KeyDownArrow     uint16 = 0x7D
	KeyUpArrow       uint16 = 0x7E
)

var keyNames = map[string]uint16{
	"a": KeyA, "b": KeyB, "c": KeyC, "d": KeyD, "e": KeyE, "f": KeyF, "g": KeyG,
	"h": KeyH, "i": KeyI, "j": KeyJ, "k": KeyK, "l": KeyL, "m": KeyM, "n": KeyN,
	"o": KeyO, "p": KeyP, "q": KeyQ, "r": KeyR, "s": KeyS, "t": KeyT, "u": KeyU,
	"v": KeyV, "w": KeyW, "x": KeyX, "y": KeyY, "z": KeyZ,
	"0": Key0, "1": Key1, "2": Key2, "3": Key3, "4": Key4,
	"5": Key5, "6": Key6, "7": Key7, "8": Key8, "9": Key9,

	"return": KeyReturn, "enter": KeyReturn, "tab": KeyTab, "space": KeySpace,
	"delete": KeyDelete, "backspace": KeyDelete, "forwarddelete": KeyForwardDelete,
	"escape": KeyEscape, "esc": KeyEscape,
	"command": KeyCommand, "cmd": KeyCommand, "rightcommand": KeyRightCommand,
	"shift": KeyShift, "rightshift": KeyRightShift,
	"option": KeyOption, "alt": KeyOption, "rightoption": KeyRightOption,
	"control": KeyControl, "ctrl": KeyControl, "rightcontrol": KeyRightControl,
	"capslock": KeyCapsLock, "fn": KeyFunction, "function": KeyFunction,

	"minus": KeyMinus, "equal": KeyEqual, "leftbracket": KeyLeftBracket,
	"rightbracket": KeyRightBracket, "backslash": KeyBackslash,
	"semicolon": KeySemicolon, "quote": KeyQuote, "comma": KeyComma,
	"period": KeyPeriod, "slash": KeySlash, "grave": KeyGrave, "section": KeySection,

	"left": KeyLeftArrow, "right": KeyRightArrow, "up": KeyUpArrow, "down": KeyDownArrow,
	"home": KeyHome, "end": KeyEnd, "pageup": KeyPageUp, "pagedown": KeyPageDown,
	"help": KeyHelp,

	"f1": KeyF1, "f2": KeyF2, "f3": KeyF3, "f4": KeyF4, "f5": KeyF5, "f6": KeyF6,
	"f7": KeyF7, "f8": KeyF8, "f9": KeyF9, "f10": KeyF10, "f11": KeyF11, "f12": KeyF12,

	"volumeup": KeyVolumeUp, "volumedown": KeyVolumeDown, "mute": KeyMute,
	"kp0": KeyKeypad0, "kp1": KeyKeypad1, "kp2": KeyKeypad2, "kp3": KeyKeypad3,
	"kp4": KeyKeypad4, "kp5": KeyKeypad5, "kp6": KeyKeypad6, "kp7": KeyKeypad7,
	"kp8": KeyKeypad8, "kp9": KeyKeypad9, "kpdecimal": KeyKeypadDecimal,
	"kpmultiply": KeyKeypadMultiply, "kpplus": KeyKeypadPlus, "kpminus": KeyKeypadMinus,
	"kpdivide": KeyKeypadDivide, "kpenter": KeyKeypadEnter, "kpequals": KeyKeypadEquals,
	"kpclear": KeyKeypadClear,
}

// KeyCodeByName resolves a key name such as "return", "cmd" or "f5".
// Matching ignores case, dashes and underscores.
func KeyCodeByName(name string) (uint16, bool) {
	n := strings.ToLower(name)
	n = strings.NewReplacer("-", "", "_", "").Replace(n)
	code, ok := keyNames[n]
	return code, ok
}

// KeyNames lists every name KeyCodeByName understands.
func KeyNames() []string {
	names := make([]string, 0, len(keyNames))
	for n := range keyNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var keyAliases = map[string]bool{
	"enter": true, "backspace": true, "esc": true, "cmd": true,
	"alt": true, "ctrl": true, "fn": true,
}

var canonicalKeyNames = func() map[uint16]string {
	m := make(map[uint16]string, len(keyNames))
	for name, code := range keyNames {
		if !keyAliases[name] {
			m[code] = name
		}
	}
	return m
}()

// KeyName returns the canonical name of code, or its hex value when unnamed.
func KeyName(code uint16) string {
	if name, ok := canonicalKeyNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", code)
}
