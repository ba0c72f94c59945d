package usbhid

import (
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"hidlink/internal/hidcodes"
)

// DefaultMouseDevice is the usual gadget endpoint for the mouse function.
const DefaultMouseDevice = "/dev/hidg1"

// clickHold keeps the button down long enough for the host to register
// a press and release as distinct events.
const clickHold = 50 * time.Millisecond

// MouseConfig carries the tunable parts of a Mouse.
type MouseConfig struct {
	// DevicePath is the gadget device node. Defaults to /dev/hidg1.
	DevicePath string
}

// Mouse writes 4-byte relative mouse reports to a gadget device. It
// tracks held-button state so motion during a click keeps the button
// down. Safe for concurrent use.
type Mouse struct {
	devicePath string

	mu      sync.Mutex
	dev     *os.File
	buttons byte
}

// NewMouse creates a mouse writer; call Open before sending.
func NewMouse(cfg MouseConfig) *Mouse {
	if cfg.DevicePath == "" {
		cfg.DevicePath = DefaultMouseDevice
	}
	return &Mouse{devicePath: cfg.DevicePath}
}

// DevicePath returns the configured gadget device node.
func (m *Mouse) DevicePath() string { return m.devicePath }

// IsOpen reports whether the device is open for writing.
func (m *Mouse) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev != nil
}

// Open opens the gadget device for writing.
func (m *Mouse) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return nil
	}
	f, err := os.OpenFile(m.devicePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open HID device %s: %w", m.devicePath, err)
	}
	m.dev = f
	m.buttons = 0
	log.Infof("Opened HID mouse device: %s", m.devicePath)
	return nil
}

// Close releases any held buttons and closes the device. Safe to call
// when not open.
func (m *Mouse) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return nil
	}
	if m.buttons != 0 {
		m.buttons = 0
		_ = m.writeReportLocked(0, 0, 0)
	}
	err := m.dev.Close()
	m.dev = nil
	log.Infof("Closed HID mouse device: %s", m.devicePath)
	return err
}

func (m *Mouse) writeReportLocked(dx, dy, wheel int) error {
	if m.dev == nil {
		return ErrNotOpen
	}
	report := hidcodes.MouseReport(m.buttons, dx, dy, wheel)
	if _, err := m.dev.Write(report[:]); err != nil {
		return fmt.Errorf("write HID report: %w", err)
	}
	return nil
}

// Move sends one relative motion report. Deltas saturate at ±127.
func (m *Mouse) Move(dx, dy int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeReportLocked(dx, dy, 0); err != nil {
		return err
	}
	log.Debugf("USB mouse move: dx=%d dy=%d", dx, dy)
	return nil
}

// Click presses and releases a button ("left", "right", "middle"). An
// unknown button name fails before any report is written.
func (m *Mouse) Click(button string) error {
	bit, err := hidcodes.ButtonToBitmask(button)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buttons |= bit
	if err := m.writeReportLocked(0, 0, 0); err != nil {
		m.buttons &^= bit
		return err
	}
	time.Sleep(clickHold)
	m.buttons &^= bit
	if err := m.writeReportLocked(0, 0, 0); err != nil {
		return err
	}
	log.Debugf("USB mouse click: %s", button)
	return nil
}

// Scroll sends one wheel report. Positive scrolls up; saturates at ±127.
func (m *Mouse) Scroll(amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeReportLocked(0, 0, amount); err != nil {
		return err
	}
	log.Debugf("USB mouse scroll: %d", amount)
	return nil
}
