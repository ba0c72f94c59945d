// Package usbhid writes input reports to Linux USB gadget HID devices
// (/dev/hidgN). With a gadget configured, the machine running this
// process shows up as a plain USB keyboard and mouse on whatever the
// gadget port is plugged into.
//
// Unlike the Bluetooth path, gadget reports carry no HIDP framing: the
// kernel function driver knows which endpoint it serves, so the raw
// 8-byte keyboard / 4-byte mouse report is written as-is.
package usbhid

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"hidlink/internal/hidcodes"
)

// DefaultKeyboardDevice is the usual gadget endpoint for the keyboard
// function.
const DefaultKeyboardDevice = "/dev/hidg0"

const (
	DefaultKeypressDelay  = 20 * time.Millisecond
	DefaultInterCharDelay = 10 * time.Millisecond
)

// ErrNotOpen is returned by send operations before Open succeeds or
// after Close.
var ErrNotOpen = errors.New("usbhid: device not open")

// KeyboardConfig carries the tunable parts of a Keyboard.
type KeyboardConfig struct {
	// DevicePath is the gadget device node. Defaults to /dev/hidg0.
	DevicePath string

	// KeypressDelay is the hold time between press and release reports.
	KeypressDelay time.Duration

	// InterCharDelay is the pause between characters when typing text.
	InterCharDelay time.Duration
}

// Keyboard writes 8-byte keyboard reports to a gadget device. Safe for
// concurrent use; each tap holds the lock across press and release so
// taps never interleave.
type Keyboard struct {
	devicePath     string
	keypressDelay  time.Duration
	interCharDelay time.Duration

	mu  sync.Mutex
	dev *os.File
}

// NewKeyboard creates a keyboard writer; call Open before sending.
func NewKeyboard(cfg KeyboardConfig) *Keyboard {
	if cfg.DevicePath == "" {
		cfg.DevicePath = DefaultKeyboardDevice
	}
	if cfg.KeypressDelay <= 0 {
		cfg.KeypressDelay = DefaultKeypressDelay
	}
	if cfg.InterCharDelay <= 0 {
		cfg.InterCharDelay = DefaultInterCharDelay
	}
	return &Keyboard{
		devicePath:     cfg.DevicePath,
		keypressDelay:  cfg.KeypressDelay,
		interCharDelay: cfg.InterCharDelay,
	}
}

// DevicePath returns the configured gadget device node.
func (k *Keyboard) DevicePath() string { return k.devicePath }

// IsOpen reports whether the device is open for writing.
func (k *Keyboard) IsOpen() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dev != nil
}

// Open opens the gadget device for writing. Opening fails until the
// gadget function is configured, so callers typically treat a failure
// here as non-fatal and retry later.
func (k *Keyboard) Open() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dev != nil {
		return nil
	}
	f, err := os.OpenFile(k.devicePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open HID device %s: %w", k.devicePath, err)
	}
	k.dev = f
	log.Infof("Opened HID keyboard device: %s", k.devicePath)
	return nil
}

// Close releases all keys and closes the device. Safe to call when not
// open.
func (k *Keyboard) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dev == nil {
		return nil
	}
	// Best effort: don't leave the host with a stuck key.
	_ = k.releaseKeysLocked()
	err := k.dev.Close()
	k.dev = nil
	log.Infof("Closed HID keyboard device: %s", k.devicePath)
	return err
}

func (k *Keyboard) writeReportLocked(report [hidcodes.KeyboardReportSize]byte) error {
	if k.dev == nil {
		return ErrNotOpen
	}
	if _, err := k.dev.Write(report[:]); err != nil {
		return fmt.Errorf("write HID report: %w", err)
	}
	return nil
}

func (k *Keyboard) releaseKeysLocked() error {
	return k.writeReportLocked(hidcodes.KeyboardRelease)
}

func (k *Keyboard) tapKeyLocked(modifier, scanCode byte) error {
	if err := k.writeReportLocked(hidcodes.KeyboardReport(modifier, scanCode)); err != nil {
		return err
	}
	time.Sleep(k.keypressDelay)
	return k.releaseKeysLocked()
}

// SendKeystroke taps a named key (e.g. "Enter", "Tab", "a").
func (k *Keyboard) SendKeystroke(key string) error {
	modifier, scanCode, err := resolveKey(key)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.tapKeyLocked(modifier, scanCode); err != nil {
		return err
	}
	log.Debugf("USB keystroke: %s (mod=0x%02X scan=0x%02X)", key, modifier, scanCode)
	return nil
}

// SendKeyCombo taps a key with modifiers held (e.g. ctrl+c).
func (k *Keyboard) SendKeyCombo(modifiers []string, key string) error {
	bitmask, err := hidcodes.ModifiersToBitmask(modifiers)
	if err != nil {
		return err
	}
	var scanCode byte
	if base, shifted := hidcodes.NeedsShift(key); shifted {
		scanCode, err = hidcodes.KeyNameToHID(base)
		bitmask |= hidcodes.ModLeftShift
	} else {
		scanCode, err = hidcodes.KeyNameToHID(key)
	}
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.tapKeyLocked(bitmask, scanCode); err != nil {
		return err
	}
	log.Debugf("USB combo: %s+%s (mod=0x%02X scan=0x%02X)",
		strings.Join(modifiers, "+"), key, bitmask, scanCode)
	return nil
}

// SendText types a string character by character.
func (k *Keyboard) SendText(text string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, r := range text {
		modifier, scanCode, err := hidcodes.CharToHID(string(r))
		if err != nil {
			return err
		}
		if err := k.tapKeyLocked(modifier, scanCode); err != nil {
			return err
		}
		time.Sleep(k.interCharDelay)
	}
	log.Debugf("USB text: %d chars", utf8.RuneCountInString(text))
	return nil
}

// resolveKey turns a key argument ("Enter", "a", "!") into its modifier
// and scan code.
func resolveKey(key string) (modifier, scanCode byte, err error) {
	if _, shifted := hidcodes.NeedsShift(key); shifted || utf8.RuneCountInString(key) == 1 {
		return hidcodes.CharToHID(key)
	}
	scanCode, err = hidcodes.KeyNameToHID(key)
	return hidcodes.ModNone, scanCode, err
}
