package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hidlink/internal/bthid"
	"hidlink/internal/hidcodes"
	"hidlink/internal/usbhid"
)

type fakeKeyboard struct {
	mu    sync.Mutex
	calls []string
	err   error
	open  bool
}

func (f *fakeKeyboard) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeKeyboard) SendKeystroke(key string) error { return f.record("keystroke:" + key) }
func (f *fakeKeyboard) SendKeyCombo(mods []string, key string) error {
	return f.record("combo:" + key)
}
func (f *fakeKeyboard) SendText(text string) error { return f.record("text:" + text) }
func (f *fakeKeyboard) IsOpen() bool               { return f.open }
func (f *fakeKeyboard) DevicePath() string         { return "/dev/hidg0" }

type fakeMouse struct {
	mu    sync.Mutex
	calls []string
	err   error
	open  bool
}

func (f *fakeMouse) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeMouse) Move(dx, dy int) error   { return f.record("move") }
func (f *fakeMouse) Click(btn string) error  { return f.record("click:" + btn) }
func (f *fakeMouse) Scroll(amount int) error { return f.record("scroll") }
func (f *fakeMouse) IsOpen() bool            { return f.open }
func (f *fakeMouse) DevicePath() string      { return "/dev/hidg1" }

func (f *fakeMouse) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

type fakeBT struct {
	fakeKeyboard
	mouse     fakeMouse
	connected bool
}

func (f *fakeBT) Move(dx, dy int) error   { return f.mouse.Move(dx, dy) }
func (f *fakeBT) Click(btn string) error  { return f.mouse.Click(btn) }
func (f *fakeBT) Scroll(amount int) error { return f.mouse.Scroll(amount) }
func (f *fakeBT) IsConnected() bool       { return f.connected }

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthWithAllBackends(t *testing.T) {
	kb := &fakeKeyboard{open: true}
	mouse := &fakeMouse{open: false}
	bt := &fakeBT{connected: true}
	h := NewServer("", bt, kb, mouse).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "/dev/hidg0", resp["hid_device"])
	assert.Equal(t, true, resp["hid_open"])
	assert.Equal(t, "/dev/hidg1", resp["mouse_hid_device"])
	assert.Equal(t, false, resp["mouse_hid_open"])
	assert.Equal(t, true, resp["bt_hid_connected"])
}

func TestHealthWithNoBackends(t *testing.T) {
	h := NewServer("", nil, nil, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["hid_open"])
	assert.Equal(t, false, resp["bt_hid_connected"])
}

func TestUSBKeystrokeRouting(t *testing.T) {
	kb := &fakeKeyboard{open: true}
	h := NewServer("", nil, kb, nil).Handler()

	rec := postJSON(t, h, "/keystroke", map[string]string{"key": "Enter"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"keystroke:Enter"}, kb.calls)
}

func TestBluetoothRouting(t *testing.T) {
	bt := &fakeBT{connected: true}
	h := NewServer("", bt, nil, nil).Handler()

	rec := postJSON(t, h, "/bt/text", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"text:hello"}, bt.calls)

	rec = postJSON(t, h, "/bt/mouse/click", map[string]string{"button": "right"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "click:right", bt.mouse.lastCall())
}

func TestMissingBluetoothBackendAnswers503(t *testing.T) {
	h := NewServer("", nil, &fakeKeyboard{}, &fakeMouse{}).Handler()

	for _, path := range []string{"/bt/keystroke", "/bt/text", "/bt/mouse/move"} {
		rec := postJSON(t, h, path, map[string]any{})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestMissingUSBBackendAnswers503(t *testing.T) {
	h := NewServer("", nil, nil, nil).Handler()
	rec := postJSON(t, h, "/keystroke", map[string]string{"key": "a"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown key", hidcodes.ErrUnknownKey, http.StatusBadRequest},
		{"unmapped char", hidcodes.ErrUnmappedChar, http.StatusBadRequest},
		{"unknown modifier", hidcodes.ErrUnknownModifier, http.StatusBadRequest},
		{"bt not connected", bthid.ErrNotConnected, http.StatusServiceUnavailable},
		{"usb not open", usbhid.ErrNotOpen, http.StatusServiceUnavailable},
		{"transport failure", assert.AnError, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := &fakeKeyboard{err: tt.err}
			h := NewServer("", nil, kb, nil).Handler()
			rec := postJSON(t, h, "/keystroke", map[string]string{"key": "a"})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMouseButtonErrorMapping(t *testing.T) {
	mouse := &fakeMouse{err: hidcodes.ErrUnknownButton}
	h := NewServer("", nil, nil, mouse).Handler()
	rec := postJSON(t, h, "/mouse/click", map[string]string{"button": "banana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	kb := &fakeKeyboard{}
	h := NewServer("secret", nil, kb, nil).Handler()

	// No token: rejected.
	rec := postJSON(t, h, "/keystroke", map[string]string{"key": "a"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, kb.calls)

	// Health stays open.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Correct token passes.
	data, _ := json.Marshal(map[string]string{"key": "a"})
	req := httptest.NewRequest(http.MethodPost, "/keystroke", bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"keystroke:a"}, kb.calls)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewServer("", nil, &fakeKeyboard{}, nil).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/keystroke", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	h := NewServer("", nil, &fakeKeyboard{}, nil).Handler()
	req := httptest.NewRequest(http.MethodPost, "/keystroke", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClickDefaultsToLeftButton(t *testing.T) {
	mouse := &fakeMouse{}
	h := NewServer("", nil, nil, mouse).Handler()
	rec := postJSON(t, h, "/mouse/click", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "click:left", mouse.lastCall())
}
