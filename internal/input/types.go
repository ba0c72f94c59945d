// Package input defines the capability interfaces shared by every HID
// actuation backend, plus an HTTP client backend that drives a remote
// bridge.
//
// The Bluetooth server, the USB gadget writers, and the HTTP client all
// satisfy these interfaces, so callers pick a transport once at wiring
// time and never branch on it afterwards.
package input

import "context"

// Keyboard sends key events to a target machine.
type Keyboard interface {
	// SendKeystroke taps a named key (e.g. "Enter", "Tab", "a").
	SendKeystroke(key string) error

	// SendKeyCombo taps a key with modifiers held (e.g. ctrl+c).
	SendKeyCombo(modifiers []string, key string) error

	// SendText types a string character by character.
	SendText(text string) error
}

// Mouse sends relative pointer events to a target machine.
type Mouse interface {
	// Move sends one relative motion report. Deltas saturate at ±127.
	Move(dx, dy int) error

	// Click presses and releases a button ("left", "right", "middle").
	Click(button string) error

	// Scroll sends one wheel report. Positive scrolls up.
	Scroll(amount int) error
}

// Transport is the connect/disconnect lifecycle of a remote backend.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
}
