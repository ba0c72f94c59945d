package input

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Route is the bridge endpoint family an HTTP client drives.
type Route string

const (
	// RouteUSB targets the USB gadget endpoints (/keystroke, ...).
	RouteUSB Route = "usb"

	// RouteBluetooth targets the Bluetooth endpoints (/bt/keystroke, ...).
	RouteBluetooth Route = "bluetooth"
)

// ErrNotConnected is returned by send operations before Connect.
var ErrNotConnected = errors.New("input: not connected to bridge")

// DefaultHTTPTimeout bounds each request. Text typing is the slowest
// operation; long strings at 30ms per character still fit comfortably.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// BaseURL of the bridge, e.g. "http://raspberrypi.local:8080".
	BaseURL string

	// Token is the optional bearer token expected by the bridge.
	Token string

	// Route selects the endpoint family once at construction time.
	// Defaults to RouteUSB.
	Route Route

	// Timeout per request. Defaults to DefaultHTTPTimeout.
	Timeout time.Duration
}

// HTTPClient actuates a remote bridge over its REST API. It implements
// Keyboard, Mouse and Transport.
type HTTPClient struct {
	baseURL string
	token   string
	prefix  string
	client  *http.Client

	connected bool
}

var (
	_ Keyboard  = (*HTTPClient)(nil)
	_ Mouse     = (*HTTPClient)(nil)
	_ Transport = (*HTTPClient)(nil)
)

// NewHTTPClient creates a client; call Connect before sending.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	prefix := ""
	if cfg.Route == RouteBluetooth {
		prefix = "/bt"
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		prefix:  prefix,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Connect verifies the bridge is reachable via its health endpoint.
func (c *HTTPClient) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to bridge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge health check failed: %s", resp.Status)
	}
	c.connected = true
	log.Infof("Connected to bridge at %s", c.baseURL)
	return nil
}

// Disconnect drops the connection state and closes idle connections.
func (c *HTTPClient) Disconnect() error {
	c.connected = false
	c.client.CloseIdleConnections()
	log.Info("Disconnected from bridge")
	return nil
}

func (c *HTTPClient) post(path string, payload any) error {
	if !c.connected {
		return ErrNotConnected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+c.prefix+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (c *HTTPClient) SendKeystroke(key string) error {
	return c.post("/keystroke", map[string]string{"key": key})
}

func (c *HTTPClient) SendKeyCombo(modifiers []string, key string) error {
	return c.post("/key-combo", map[string]any{"modifiers": modifiers, "key": key})
}

func (c *HTTPClient) SendText(text string) error {
	return c.post("/text", map[string]string{"text": text})
}

func (c *HTTPClient) Move(dx, dy int) error {
	return c.post("/mouse/move", map[string]int{"x": dx, "y": dy})
}

func (c *HTTPClient) Click(button string) error {
	return c.post("/mouse/click", map[string]string{"button": button})
}

func (c *HTTPClient) Scroll(amount int) error {
	return c.post("/mouse/scroll", map[string]int{"amount": amount})
}
