// Package api provides the REST bridge that turns HTTP requests into
// HID reports, plus a WebSocket event stream and a UDP mouse fast path.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"hidlink/internal/bthid"
	"hidlink/internal/hidcodes"
	"hidlink/internal/input"
	"hidlink/internal/usbhid"
)

// BluetoothDevice is the Bluetooth backend surface the bridge needs.
type BluetoothDevice interface {
	input.Keyboard
	input.Mouse
	IsConnected() bool
}

// GadgetKeyboard is the USB keyboard backend surface the bridge needs.
type GadgetKeyboard interface {
	input.Keyboard
	IsOpen() bool
	DevicePath() string
}

// GadgetMouse is the USB mouse backend surface the bridge needs.
type GadgetMouse interface {
	input.Mouse
	IsOpen() bool
	DevicePath() string
}

var (
	_ BluetoothDevice = (*bthid.Server)(nil)
	_ GadgetKeyboard  = (*usbhid.Keyboard)(nil)
	_ GadgetMouse     = (*usbhid.Mouse)(nil)
)

// Server provides the HTTP API for remote HID actuation. Any backend
// may be nil; its endpoints then answer 503.
type Server struct {
	token       string
	bt          BluetoothDevice
	usbKeyboard GadgetKeyboard
	usbMouse    GadgetMouse
	wsMgr       *WSManager
	httpSrv     *http.Server
}

// NewServer creates a new API server over the given backends.
func NewServer(token string, bt BluetoothDevice, kb GadgetKeyboard, mouse GadgetMouse) *Server {
	s := &Server{
		token:       token,
		bt:          bt,
		usbKeyboard: kb,
		usbMouse:    mouse,
	}
	s.wsMgr = newWSManager()
	return s
}

// Handler returns the full middleware-wrapped handler. Exposed so tests
// can drive the API without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)

	mux.HandleFunc("/keystroke", s.handleKeystroke(s.usbKeyboardOrErr, "usb"))
	mux.HandleFunc("/key-combo", s.handleKeyCombo(s.usbKeyboardOrErr, "usb"))
	mux.HandleFunc("/text", s.handleText(s.usbKeyboardOrErr, "usb"))
	mux.HandleFunc("/mouse/move", s.handleMouseMove(s.usbMouseOrErr, "usb"))
	mux.HandleFunc("/mouse/click", s.handleMouseClick(s.usbMouseOrErr, "usb"))
	mux.HandleFunc("/mouse/scroll", s.handleMouseScroll(s.usbMouseOrErr, "usb"))

	mux.HandleFunc("/bt/keystroke", s.handleKeystroke(s.btKeyboardOrErr, "bluetooth"))
	mux.HandleFunc("/bt/key-combo", s.handleKeyCombo(s.btKeyboardOrErr, "bluetooth"))
	mux.HandleFunc("/bt/text", s.handleText(s.btKeyboardOrErr, "bluetooth"))
	mux.HandleFunc("/bt/mouse/move", s.handleMouseMove(s.btMouseOrErr, "bluetooth"))
	mux.HandleFunc("/bt/mouse/click", s.handleMouseClick(s.btMouseOrErr, "bluetooth"))
	mux.HandleFunc("/bt/mouse/scroll", s.handleMouseScroll(s.btMouseOrErr, "bluetooth"))

	return s.authMiddleware(s.recoverMiddleware(mux))
}

// Start serves the API on addr, blocking until Shutdown or failure.
func (s *Server) Start(addr string) error {
	go s.wsMgr.start()

	// tcp4 avoids IPv6-only binding surprises with 0.0.0.0 defaults.
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("API server listen on %s: %w", addr, err)
	}
	log.Infof("API server listening on %s", addr)

	s.httpSrv = &http.Server{Handler: s.Handler()}
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and the WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsMgr.stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// BroadcastState pushes a Bluetooth connection-state change to all
// WebSocket subscribers.
func (s *Server) BroadcastState(connected bool, peerAddr string) {
	s.wsMgr.BroadcastState(connected, peerAddr)
}

// recoverMiddleware prevents a handler panic from crashing the server.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("Recovered handler panic: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the bearer token if one is configured. The
// health endpoint stays open for monitoring.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("API: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if s.token != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// Backend accessors return 503-mapped errors when a backend is absent.

func (s *Server) usbKeyboardOrErr() (input.Keyboard, error) {
	if s.usbKeyboard == nil {
		return nil, errBackendUnavailable("USB keyboard not available")
	}
	return s.usbKeyboard, nil
}

func (s *Server) usbMouseOrErr() (input.Mouse, error) {
	if s.usbMouse == nil {
		return nil, errBackendUnavailable("USB mouse not available")
	}
	return s.usbMouse, nil
}

func (s *Server) btKeyboardOrErr() (input.Keyboard, error) {
	if s.bt == nil {
		return nil, errBackendUnavailable("Bluetooth HID not initialized")
	}
	return s.bt, nil
}

func (s *Server) btMouseOrErr() (input.Mouse, error) {
	if s.bt == nil {
		return nil, errBackendUnavailable("Bluetooth HID not initialized")
	}
	return s.bt, nil
}

type unavailableError string

func (e unavailableError) Error() string { return string(e) }

func errBackendUnavailable(msg string) error { return unavailableError(msg) }

// Request bodies.

type keystrokeRequest struct {
	Key string `json:"key"`
}

type keyComboRequest struct {
	Modifiers []string `json:"modifiers"`
	Key       string   `json:"key"`
}

type textRequest struct {
	Text string `json:"text"`
}

type mouseMoveRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type mouseClickRequest struct {
	Button string `json:"button"`
}

type mouseScrollRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleKeystroke(backend func() (input.Keyboard, error), transport string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keystrokeRequest
		if !decodePost(w, r, &req) {
			return
		}
		kb, err := backend()
		if err == nil {
			err = kb.SendKeystroke(req.Key)
		}
		if err != nil {
			s.writeActuationError(w, err)
			return
		}
		s.wsMgr.BroadcastAction("keystroke", transport, req.Key)
		writeJSON(w, map[string]string{"status": "ok", "key": req.Key, "transport": transport})
	}
}

func (s *Server) handleKeyCombo(backend func() (input.Keyboard, error), transport string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyComboRequest
		if !decodePost(w, r, &req) {
			return
		}
		combo := strings.Join(req.Modifiers, "+") + "+" + req.Key
		kb, err := backend()
		if err == nil {
			err = kb.SendKeyCombo(req.Modifiers, req.Key)
		}
		if err != nil {
			s.writeActuationError(w, err)
			return
		}
		s.wsMgr.BroadcastAction("key-combo", transport, combo)
		writeJSON(w, map[string]string{"status": "ok", "combo": combo, "transport": transport})
	}
}

func (s *Server) handleText(backend func() (input.Keyboard, error), transport string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if !decodePost(w, r, &req) {
			return
		}
		kb, err := backend()
		if err == nil {
			err = kb.SendText(req.Text)
		}
		if err != nil {
			s.writeActuationError(w, err)
			return
		}
		s.wsMgr.BroadcastAction("text", transport, fmt.Sprintf("%d chars", len(req.Text)))
		writeJSON(w, map[string]string{"status": "ok", "length": fmt.Sprint(len(req.Text)), "transport": transport})
	}
}

func (s *Server) handleMouseMove(backend func() (input.Mouse, error), transport string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mouseMoveRequest
		if !decodePost(w, r, &req) {
			return
		}
		m, err := backend()
		if err == nil {
			err = m.Move(req.X, req.Y)
		}
		if err != nil {
			s.writeActuationError(w, err)
			return
		}
		s.wsMgr.BroadcastAction("mouse-move", transport, fmt.Sprintf("%d,%d", req.X, req.Y))
		writeJSON(w, map[string]string{"status": "ok", "x": fmt.Sprint(req.X), "y": fmt.Sprint(req.Y), "transport": transport})
	}
}

func (s *Server) handleMouseClick(backend func() (input.Mouse, error), transport string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := mouseClickRequest{Button: "left"}
		if !decodePost(w, r, &req) {
			return
		}
		m, err := backend()
		if err == nil {
			err = m.Click(req.Button)
		}
		if err != nil {
			s.writeActuationError(w, err)
			return
		}
		s.wsMgr.BroadcastAction("mouse-click", transport, req.Button)
		writeJSON(w, map[string]string{"status": "ok", "button": req.Button, "transport": transport})
	}
}

func (s *Server) handleMouseScroll(backend func() (input.Mouse, error), transport string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mouseScrollRequest
		if !decodePost(w, r, &req) {
			return
		}
		m, err := backend()
		if err == nil {
			err = m.Scroll(req.Amount)
		}
		if err != nil {
			s.writeActuationError(w, err)
			return
		}
		s.wsMgr.BroadcastAction("mouse-scroll", transport, fmt.Sprint(req.Amount))
		writeJSON(w, map[string]string{"status": "ok", "amount": fmt.Sprint(req.Amount), "transport": transport})
	}
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":           "ok",
		"hid_open":         false,
		"mouse_hid_open":   false,
		"bt_hid_connected": false,
	}
	if s.usbKeyboard != nil {
		resp["hid_device"] = s.usbKeyboard.DevicePath()
		resp["hid_open"] = s.usbKeyboard.IsOpen()
	}
	if s.usbMouse != nil {
		resp["mouse_hid_device"] = s.usbMouse.DevicePath()
		resp["mouse_hid_open"] = s.usbMouse.IsOpen()
	}
	if s.bt != nil {
		resp["bt_hid_connected"] = s.bt.IsConnected()
	}
	writeJSON(w, resp)
}

// decodePost enforces the POST method and decodes the JSON body. A
// false return means the response was already written.
func decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeActuationError maps backend errors onto HTTP statuses: bad input
// is the caller's fault (400), a missing or unconnected backend is a
// service problem (503), and anything else is a failed actuation (502).
func (s *Server) writeActuationError(w http.ResponseWriter, err error) {
	var unavailable unavailableError
	switch {
	case errors.Is(err, hidcodes.ErrUnmappedChar),
		errors.Is(err, hidcodes.ErrUnknownKey),
		errors.Is(err, hidcodes.ErrUnknownModifier),
		errors.Is(err, hidcodes.ErrUnknownButton):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unavailable),
		errors.Is(err, bthid.ErrNotConnected),
		errors.Is(err, bthid.ErrNotStarted),
		errors.Is(err, usbhid.ErrNotOpen):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
