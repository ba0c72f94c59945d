// Package bthid implements the device side of the Bluetooth HID profile:
// a combo keyboard+mouse that any paired host accepts as a peripheral.
//
// The server listens on the two well-known HID L2CAP channels (PSM 0x11
// control, PSM 0x13 interrupt), serves exactly one peer at a time, answers
// HIDP control-channel messages in the background, and sends multiplexed
// input reports (report ID 1 keyboard, report ID 2 mouse) on the interrupt
// channel. Every data frame is prefixed with the HIDP DATA|INPUT header.
package bthid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"hidlink/internal/hidcodes"
	"hidlink/internal/sdp"
)

// Well-known L2CAP PSMs from the HID profile specification.
const (
	PSMControl   uint16 = 0x11
	PSMInterrupt uint16 = 0x13
)

// HIDP transaction types (high nibble of the first byte).
const (
	hidpHandshake   byte = 0x00
	hidpHIDControl  byte = 0x10
	hidpGetReport   byte = 0x40
	hidpSetReport   byte = 0x50
	hidpGetProtocol byte = 0x60
	hidpSetProtocol byte = 0x70

	hidpTransMask byte = 0xF0
	hidpParamMask byte = 0x0F

	// hidpDataInput prefixes every report sent on the interrupt channel.
	hidpDataInput byte = 0xA1

	handshakeSuccess byte = 0x00
	protocolReport   byte = 0x01
)

// Default key timing. A short hold between press and release keeps fast
// hosts from coalescing the two reports into nothing.
const (
	DefaultKeypressDelay  = 20 * time.Millisecond
	DefaultInterCharDelay = 10 * time.Millisecond

	clickHold = 50 * time.Millisecond
)

// State is the server lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateConnected
	StateStopped
)

var (
	// ErrNotStarted is returned when an operation needs Start first.
	ErrNotStarted = errors.New("bthid: server not started")

	// ErrAlreadyStarted is returned by Start on a non-idle server.
	ErrAlreadyStarted = errors.New("bthid: server already started")

	// ErrNotConnected is returned by send operations without a peer.
	ErrNotConnected = errors.New("bthid: no bluetooth peer connected")

	// ErrAlreadyConnected is returned by WaitForConnection while a peer
	// is being served.
	ErrAlreadyConnected = errors.New("bthid: peer already connected")

	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("bthid: server stopped")
)

// Config carries the tunable parts of the server.
type Config struct {
	// KeypressDelay is the hold time between a key press report and its
	// release report. Defaults to DefaultKeypressDelay.
	KeypressDelay time.Duration

	// InterCharDelay is the pause between consecutive characters when
	// typing text. Defaults to DefaultInterCharDelay.
	InterCharDelay time.Duration

	// Listen overrides the transport; nil means L2CAP.
	Listen ListenFunc
}

// Server is the stateful Bluetooth HID combo device.
//
// Lifecycle: Idle → Listening (Start) → Connected (WaitForConnection) →
// back to Listening on peer loss, or Stopped (Stop, idempotent, any state).
type Server struct {
	keypressDelay  time.Duration
	interCharDelay time.Duration
	listen         ListenFunc

	mu           sync.Mutex
	state        State
	ctrlLn       Listener
	intrLn       Listener
	ctrlConn     io.ReadWriteCloser
	intrConn     io.ReadWriteCloser
	mouseButtons byte
	readerDone   chan struct{}
	sessionDone  chan struct{}
}

// NewServer creates a server; call Start to open the listening channels.
func NewServer(cfg Config) *Server {
	if cfg.KeypressDelay <= 0 {
		cfg.KeypressDelay = DefaultKeypressDelay
	}
	if cfg.InterCharDelay <= 0 {
		cfg.InterCharDelay = DefaultInterCharDelay
	}
	if cfg.Listen == nil {
		cfg.Listen = listenHID
	}
	return &Server{
		keypressDelay:  cfg.KeypressDelay,
		interCharDelay: cfg.InterCharDelay,
		listen:         cfg.Listen,
	}
}

// IsConnected reports whether a peer is currently being served.
func (s *Server) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// Start opens both listening channels. A bind failure on either is fatal:
// the device cannot operate without the full control+interrupt pair.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return ErrStopped
	}
	if s.state != StateIdle {
		return ErrAlreadyStarted
	}

	ctrlLn, err := s.listen(PSMControl)
	if err != nil {
		return fmt.Errorf("control channel: %w", err)
	}
	intrLn, err := s.listen(PSMInterrupt)
	if err != nil {
		ctrlLn.Close()
		return fmt.Errorf("interrupt channel: %w", err)
	}

	s.ctrlLn = ctrlLn
	s.intrLn = intrLn
	s.state = StateListening
	log.Infof("Bluetooth HID server listening (PSM 0x%02X control, PSM 0x%02X interrupt)",
		PSMControl, PSMInterrupt)
	return nil
}

// WaitForConnection blocks until a host completes both channel handshakes
// (control first, then interrupt, per the HID profile) and returns the
// peer's address. On success the background control-channel reader starts.
//
// Only one peer is served at a time: while connected, no further accepts
// happen, so a second host's connection attempt sits in the depth-1 listen
// backlog until it gives up. Cancelling ctx unblocks the wait without
// touching the listeners.
func (s *Server) WaitForConnection(ctx context.Context) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return "", ErrNotStarted
	case StateStopped:
		s.mu.Unlock()
		return "", ErrStopped
	case StateConnected:
		s.mu.Unlock()
		return "", ErrAlreadyConnected
	}
	ctrlLn, intrLn := s.ctrlLn, s.intrLn
	s.mu.Unlock()

	log.Info("Waiting for Bluetooth HID connection...")

	ctrlConn, addr, err := acceptContext(ctx, ctrlLn)
	if err != nil {
		return "", fmt.Errorf("control channel: %w", err)
	}
	log.Infof("Control channel connected from %s", addr)

	intrConn, _, err := acceptContext(ctx, intrLn)
	if err != nil {
		ctrlConn.Close()
		return "", fmt.Errorf("interrupt channel: %w", err)
	}
	log.Infof("Interrupt channel connected from %s", addr)

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		intrConn.Close()
		ctrlConn.Close()
		return "", ErrStopped
	}
	s.ctrlConn = ctrlConn
	s.intrConn = intrConn
	s.mouseButtons = 0
	s.state = StateConnected
	s.readerDone = make(chan struct{})
	s.sessionDone = make(chan struct{})
	readerDone := s.readerDone
	s.mu.Unlock()

	go s.controlLoop(ctrlConn, readerDone)
	return addr, nil
}

// Disconnected returns a channel closed when the current peer goes away.
// Without a connected peer the returned channel is already closed.
func (s *Server) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnected {
		return s.sessionDone
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Stop tears the server down from any state. Idempotent: safe before
// Start and safe to call repeatedly. Handles close in exist-then-close
// order (interrupt peer, control peer, interrupt listener, control
// listener); the control reader is unblocked by the peer-socket close and
// awaited before Stop returns.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	readerDone := s.readerDone
	if s.intrConn != nil {
		s.intrConn.Close()
		s.intrConn = nil
	}
	if s.ctrlConn != nil {
		s.ctrlConn.Close()
		s.ctrlConn = nil
	}
	if s.state == StateConnected {
		close(s.sessionDone)
	}
	if s.intrLn != nil {
		s.intrLn.Close()
		s.intrLn = nil
	}
	if s.ctrlLn != nil {
		s.ctrlLn.Close()
		s.ctrlLn = nil
	}
	s.state = StateStopped
	s.mu.Unlock()

	if readerDone != nil {
		<-readerDone
	}
	log.Info("Bluetooth HID server stopped")
	return nil
}

// controlLoop answers HIDP messages on the control channel until the peer
// closes it or the server stops. It must survive any byte sequence a host
// throws at it; unknown messages are logged and dropped.
func (s *Server) controlLoop(conn io.ReadWriteCloser, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err == io.EOF {
				log.Info("Control channel closed by peer")
			} else {
				log.Debugf("Control channel read ended: %v", err)
			}
			break
		}
		if n == 0 {
			log.Info("Control channel closed by peer")
			break
		}

		msgType := buf[0] & hidpTransMask
		param := buf[0] & hidpParamMask
		log.Debugf("Control channel msg 0x%02X (type=0x%02X param=0x%02X)", buf[0], msgType, param)

		switch msgType {
		case hidpSetProtocol:
			// param: 0=Boot Protocol, 1=Report Protocol
			mode := "Boot"
			if param == 1 {
				mode = "Report"
			}
			log.Infof("SET_PROTOCOL: %s mode", mode)
			s.replyControl(conn, handshakeSuccess)
		case hidpGetProtocol:
			s.replyControl(conn, protocolReport)
		case hidpSetReport:
			// ACK output reports (e.g. LED state).
			s.replyControl(conn, handshakeSuccess)
		case hidpHIDControl:
			if param == 0x03 {
				log.Info("HID_CONTROL: exit suspend")
			} else {
				log.Infof("HID_CONTROL: param=0x%02X", param)
			}
		default:
			log.Debugf("Unhandled control msg type 0x%02X", msgType)
		}
	}
	s.disconnect("control channel closed")
}

func (s *Server) replyControl(conn io.Writer, b byte) {
	if _, err := conn.Write([]byte{b}); err != nil {
		log.Debugf("Control channel reply failed: %v", err)
	}
}

// disconnect closes the peer sockets and drops back to Listening. No-op
// unless currently connected, so it can race Stop safely.
func (s *Server) disconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked(reason)
}

func (s *Server) disconnectLocked(reason string) {
	if s.state != StateConnected {
		return
	}
	log.Infof("Bluetooth peer disconnected: %s", reason)
	if s.intrConn != nil {
		s.intrConn.Close()
		s.intrConn = nil
	}
	if s.ctrlConn != nil {
		s.ctrlConn.Close()
		s.ctrlConn = nil
	}
	s.mouseButtons = 0
	s.state = StateListening
	close(s.sessionDone)
}

// sendInterruptLocked writes one framed report to the interrupt channel.
// A write failure means the peer is gone: the connection is marked dead
// and the error propagates to the caller without retry.
func (s *Server) sendInterruptLocked(frame []byte) error {
	if s.state != StateConnected || s.intrConn == nil {
		return ErrNotConnected
	}
	if _, err := s.intrConn.Write(frame); err != nil {
		s.disconnectLocked(fmt.Sprintf("interrupt write failed: %v", err))
		return fmt.Errorf("send HID report: %w", err)
	}
	return nil
}

func (s *Server) sendKeyboardReportLocked(modifier, scanCode byte) error {
	report := hidcodes.KeyboardReport(modifier, scanCode)
	frame := append([]byte{hidpDataInput, sdp.ReportIDKeyboard}, report[:]...)
	return s.sendInterruptLocked(frame)
}

func (s *Server) releaseKeyboardLocked() error {
	frame := append([]byte{hidpDataInput, sdp.ReportIDKeyboard}, hidcodes.KeyboardRelease[:]...)
	return s.sendInterruptLocked(frame)
}

// tapKeyLocked presses and releases one key. The mutex stays held across
// the hold delay so a concurrent caller cannot interleave between press
// and release.
func (s *Server) tapKeyLocked(modifier, scanCode byte) error {
	if err := s.sendKeyboardReportLocked(modifier, scanCode); err != nil {
		return err
	}
	time.Sleep(s.keypressDelay)
	return s.releaseKeyboardLocked()
}

// resolveKey turns a key argument ("Enter", "a", "!") into its modifier
// and scan code. Single characters and shifted characters go through the
// character table; everything else is a named key.
func resolveKey(key string) (modifier, scanCode byte, err error) {
	if _, shifted := hidcodes.NeedsShift(key); shifted || utf8.RuneCountInString(key) == 1 {
		return hidcodes.CharToHID(key)
	}
	scanCode, err = hidcodes.KeyNameToHID(key)
	return hidcodes.ModNone, scanCode, err
}

// SendKeystroke taps a named key (e.g. "Enter", "Tab", "a").
func (s *Server) SendKeystroke(key string) error {
	modifier, scanCode, err := resolveKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tapKeyLocked(modifier, scanCode); err != nil {
		return err
	}
	log.Debugf("BT keystroke: %s (mod=0x%02X scan=0x%02X)", key, modifier, scanCode)
	return nil
}

// SendKeyCombo taps a key with modifiers held (e.g. ctrl+c).
func (s *Server) SendKeyCombo(modifiers []string, key string) error {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tapKeyLocked(bitmask, scanCode); err != nil {
		return err
	}
	log.Debugf("BT combo: %s+%s (mod=0x%02X scan=0x%02X)",
		strings.Join(modifiers, "+"), key, bitmask, scanCode)
	return nil
}

// SendText types a string character by character with a human-speed pause
// between taps so the host's input buffer does not coalesce them.
func (s *Server) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range text {
		modifier, scanCode, err := hidcodes.CharToHID(string(r))
		if err != nil {
			return err
		}
		if err := s.tapKeyLocked(modifier, scanCode); err != nil {
			return err
		}
		time.Sleep(s.interCharDelay)
	}
	log.Debugf("BT text: %d chars", utf8.RuneCountInString(text))
	return nil
}

func (s *Server) sendMouseReportLocked(buttons byte, dx, dy, wheel int) error {
	report := hidcodes.MouseReport(buttons, dx, dy, wheel)
	frame := append([]byte{hidpDataInput, sdp.ReportIDMouse}, report[:]...)
	return s.sendInterruptLocked(frame)
}

// Move sends one relative motion report. The current held-button state is
// carried so moving with a button down does not release it. Deltas
// saturate at ±127.
func (s *Server) Move(dx, dy int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendMouseReportLocked(s.mouseButtons, dx, dy, 0); err != nil {
		return err
	}
	log.Debugf("BT mouse move: dx=%d dy=%d", dx, dy)
	return nil
}

// Click presses and releases a button ("left", "right", "middle"),
// leaving other held buttons untouched. An unknown button name fails
// before any report is sent.
func (s *Server) Click(button string) error {
	bit, err := hidcodes.ButtonToBitmask(button)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mouseButtons |= bit
	if err := s.sendMouseReportLocked(s.mouseButtons, 0, 0, 0); err != nil {
		s.mouseButtons &^= bit
		return err
	}
	time.Sleep(clickHold)
	s.mouseButtons &^= bit
	if err := s.sendMouseReportLocked(s.mouseButtons, 0, 0, 0); err != nil {
		return err
	}
	log.Debugf("BT mouse click: %s", button)
	return nil
}

// Scroll sends one wheel report. Positive scrolls up; saturates at ±127.
func (s *Server) Scroll(amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendMouseReportLocked(s.mouseButtons, 0, 0, amount); err != nil {
		return err
	}
	log.Debugf("BT mouse scroll: %d", amount)
	return nil
}

// acceptContext runs Accept in a goroutine so the wait can be abandoned
// when ctx is cancelled. A connection that lands after cancellation is
// closed rather than leaked.
func acceptContext(ctx context.Context, ln Listener) (io.ReadWriteCloser, string, error) {
	type result struct {
		conn io.ReadWriteCloser
		addr string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, addr, err := ln.Accept()
		ch <- result{conn, addr, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, "", ctx.Err()
	case r := <-ch:
		return r.conn, r.addr, r.err
	}
}
