package hidcodes

// KeyboardReportSize is the size of a keyboard input report:
// modifier, reserved, six key slots.
const KeyboardReportSize = 8

// MouseReportSize is the size of a mouse input report:
// buttons, x delta, y delta, wheel delta.
const MouseReportSize = 4

// KeyboardRelease is the all-zeros report that releases every key.
var KeyboardRelease = [KeyboardReportSize]byte{}

// KeyboardReport frames an 8-byte keyboard report with one active key.
// Byte 1 is reserved and key slots 2-6 stay zero: this system only ever
// holds a single non-modifier key at a time.
func KeyboardReport(modifier, scanCode byte) [KeyboardReportSize]byte {
	return [KeyboardReportSize]byte{modifier, 0x00, scanCode, 0x00, 0x00, 0x00, 0x00, 0x00}
}

// MouseReport frames a 4-byte mouse report. The motion fields are relative
// and saturate to the signed-byte range; out-of-range values are clamped,
// never wrapped.
func MouseReport(buttons byte, dx, dy, wheel int) [MouseReportSize]byte {
	return [MouseReportSize]byte{
		buttons,
		byte(Clamp(dx)),
		byte(Clamp(dy)),
		byte(Clamp(wheel)),
	}
}

// Clamp saturates v to the HID relative-motion range [-127, 127].
func Clamp(v int) int8 {
	if v > 127 {
		return 127
	}
	if v < -127 {
		return -127
	}
	return int8(v)
}
