// Package hidcodes maps logical keyboard and mouse input to USB HID
// scan codes and modifier bitmasks (USB HID Usage Tables v1.4, Keyboard/
// Keypad Page 0x07), and frames the fixed-size binary reports both the
// Bluetooth and USB transports send.
//
// All functions are pure lookups over a fixed US keyboard layout.
package hidcodes

import (
	"errors"
	"fmt"
	"strings"
)

// Modifier bitmasks (byte 0 of a keyboard report).
const (
	ModNone       byte = 0x00
	ModLeftCtrl   byte = 0x01
	ModLeftShift  byte = 0x02
	ModLeftAlt    byte = 0x04
	ModLeftMeta   byte = 0x08
	ModRightCtrl  byte = 0x10
	ModRightShift byte = 0x20
	ModRightAlt   byte = 0x40
	ModRightMeta  byte = 0x80
)

// Mouse button bitmasks (byte 0 of a mouse report).
const (
	ButtonLeft   byte = 0x01
	ButtonRight  byte = 0x02
	ButtonMiddle byte = 0x04
)

var (
	// ErrUnmappedChar is returned for characters with no HID mapping
	// (control characters, non-ASCII).
	ErrUnmappedChar = errors.New("no HID mapping for character")

	// ErrUnknownKey is returned for unrecognized key names.
	ErrUnknownKey = errors.New("unknown key name")

	// ErrUnknownModifier is returned for unrecognized modifier names.
	ErrUnknownModifier = errors.New("unknown modifier")

	// ErrUnknownButton is returned for unrecognized mouse button names.
	ErrUnknownButton = errors.New("unknown mouse button")
)

// modifierMap maps friendly modifier names to their bitmask.
var modifierMap = map[string]byte{
	"ctrl":        ModLeftCtrl,
	"left_ctrl":   ModLeftCtrl,
	"right_ctrl":  ModRightCtrl,
	"shift":       ModLeftShift,
	"left_shift":  ModLeftShift,
	"right_shift": ModRightShift,
	"alt":         ModLeftAlt,
	"left_alt":    ModLeftAlt,
	"right_alt":   ModRightAlt,
	"meta":        ModLeftMeta,
	"super":       ModLeftMeta,
	"win":         ModLeftMeta,
	"left_meta":   ModLeftMeta,
	"right_meta":  ModRightMeta,
}

// buttonMap maps mouse button names to their bitmask.
var buttonMap = map[string]byte{
	"left":   ButtonLeft,
	"right":  ButtonRight,
	"middle": ButtonMiddle,
}

// keyCodes maps key names (and single characters) to USB HID scan codes.
var keyCodes = map[string]byte{
	// Letters (a=0x04 .. z=0x1D)
	"a": 0x04, "b": 0x05, "c": 0x06, "d": 0x07,
	"e": 0x08, "f": 0x09, "g": 0x0A, "h": 0x0B,
	"i": 0x0C, "j": 0x0D, "k": 0x0E, "l": 0x0F,
	"m": 0x10, "n": 0x11, "o": 0x12, "p": 0x13,
	"q": 0x14, "r": 0x15, "s": 0x16, "t": 0x17,
	"u": 0x18, "v": 0x19, "w": 0x1A, "x": 0x1B,
	"y": 0x1C, "z": 0x1D,
	// Numbers (1=0x1E .. 0=0x27)
	"1": 0x1E, "2": 0x1F, "3": 0x20, "4": 0x21,
	"5": 0x22, "6": 0x23, "7": 0x24, "8": 0x25,
	"9": 0x26, "0": 0x27,
	// Control keys
	"Enter": 0x28, "Return": 0x28,
	"Escape": 0x29, "Esc": 0x29,
	"Backspace": 0x2A,
	"Tab":       0x2B,
	"Space":     0x2C, " ": 0x2C,
	// Punctuation / symbols (US layout)
	"-": 0x2D, "=": 0x2E,
	"[": 0x2F, "]": 0x30,
	"\\": 0x31,
	";":  0x33, "'": 0x34,
	"`": 0x35,
	",": 0x36, ".": 0x37, "/": 0x38,
	// Lock keys
	"CapsLock": 0x39,
	// Function keys
	"F1": 0x3A, "F2": 0x3B, "F3": 0x3C, "F4": 0x3D,
	"F5": 0x3E, "F6": 0x3F, "F7": 0x40, "F8": 0x41,
	"F9": 0x42, "F10": 0x43, "F11": 0x44, "F12": 0x45,
	// Navigation
	"PrintScreen": 0x46,
	"ScrollLock":  0x47,
	"Pause":       0x48,
	"Insert":      0x49,
	"Home":        0x4A,
	"PageUp":      0x4B,
	"Delete":      0x4C,
	"End":         0x4D,
	"PageDown":    0x4E,
	"Right":       0x4F, "Left": 0x50,
	"Down": 0x51, "Up": 0x52,
}

// shiftChars maps characters that need Shift on a US layout to the base
// character sharing the same physical key.
var shiftChars = map[string]string{
	"!": "1", "@": "2", "#": "3", "$": "4",
	"%": "5", "^": "6", "&": "7", "*": "8",
	"(": "9", ")": "0", "_": "-", "+": "=",
	"{": "[", "}": "]", "|": "\\",
	":": ";", "\"": "'", "~": "`",
	"<": ",", ">": ".", "?": "/",
	"A": "a", "B": "b", "C": "c", "D": "d",
	"E": "e", "F": "f", "G": "g", "H": "h",
	"I": "i", "J": "j", "K": "k", "L": "l",
	"M": "m", "N": "n", "O": "o", "P": "p",
	"Q": "q", "R": "r", "S": "s", "T": "t",
	"U": "u", "V": "v", "W": "w", "X": "x",
	"Y": "y", "Z": "z",
}

// CharToHID converts a single character to its (modifier, scan code) pair.
// Characters that need Shift on a US layout return ModLeftShift and the
// scan code of the base character.
func CharToHID(char string) (modifier, scanCode byte, err error) {
	if code, ok := keyCodes[char]; ok {
		return ModNone, code, nil
	}
	if base, ok := shiftChars[char]; ok {
		if code, ok := keyCodes[base]; ok {
			return ModLeftShift, code, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrUnmappedChar, char)
}

// KeyNameToHID converts a key name to its scan code. Multi-character names
// are case-sensitive ("Enter", not "enter"); single-character names fall
// back to a case-insensitive lookup.
func KeyNameToHID(key string) (byte, error) {
	if code, ok := keyCodes[key]; ok {
		return code, nil
	}
	if len(key) == 1 {
		if code, ok := keyCodes[strings.ToLower(key)]; ok {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// NeedsShift reports whether key is a shifted character, returning the
// base character sharing the same physical key.
func NeedsShift(key string) (base string, ok bool) {
	base, ok = shiftChars[key]
	return base, ok
}

// ModifiersToBitmask ORs together the bitmasks for the named modifiers.
// Names are matched case-insensitively. If any name is unrecognized the
// whole call fails; no partial bitmask is returned.
func ModifiersToBitmask(modifiers []string) (byte, error) {
	var bitmask byte
	for _, mod := range modifiers {
		bit, ok := modifierMap[strings.ToLower(mod)]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownModifier, mod)
		}
		bitmask |= bit
	}
	return bitmask, nil
}

// ButtonToBitmask converts a mouse button name ("left", "right", "middle",
// matched case-insensitively) to its report bitmask.
func ButtonToBitmask(button string) (byte, error) {
	bit, ok := buttonMap[strings.ToLower(button)]
	if !ok {
		return 0, fmt.Errorf("%w: %q (use: left, right, middle)", ErrUnknownButton, button)
	}
	return bit, nil
}
