// Package config provides configuration management for the HID bridge.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// API contains the REST bridge settings
	API APIConfig `yaml:"api"`

	// Input contains key timing settings shared by all transports
	Input InputConfig `yaml:"input"`

	// Bluetooth contains the Bluetooth HID device settings
	Bluetooth BluetoothConfig `yaml:"bluetooth"`

	// USB contains the USB gadget settings
	USB USBConfig `yaml:"usb"`

	// UDP contains the low-latency mouse path settings
	UDP UDPConfig `yaml:"udp"`
}

// APIConfig contains the REST bridge settings
type APIConfig struct {
	// Host is the listen address (default: 0.0.0.0)
	Host string `yaml:"host"`

	// Port is the listen port (default: 8080)
	Port int `yaml:"port"`

	// Token is an optional bearer token required on every request
	// except /health
	Token string `yaml:"token,omitempty"`
}

// InputConfig contains key timing settings
type InputConfig struct {
	// KeypressDelayMs is the hold time between press and release (default: 20)
	KeypressDelayMs int `yaml:"keypress_delay_ms"`

	// InterCharDelayMs is the pause between characters when typing (default: 10)
	InterCharDelayMs int `yaml:"inter_char_delay_ms"`
}

// BluetoothConfig contains the Bluetooth HID device settings
type BluetoothConfig struct {
	// Enabled turns the Bluetooth HID server on
	Enabled bool `yaml:"enabled"`

	// Adapter is the BlueZ adapter ID (default: hci0)
	Adapter string `yaml:"adapter"`
}

// USBConfig contains the USB gadget settings
type USBConfig struct {
	// Enabled turns the USB gadget writers on
	Enabled bool `yaml:"enabled"`

	// KeyboardDevice is the keyboard gadget node (default: /dev/hidg0)
	KeyboardDevice string `yaml:"keyboard_device"`

	// MouseDevice is the mouse gadget node (default: /dev/hidg1)
	MouseDevice string `yaml:"mouse_device"`
}

// UDPConfig contains the low-latency mouse path settings
type UDPConfig struct {
	// Enabled turns the UDP mouse listener on
	Enabled bool `yaml:"enabled"`

	// Port is the UDP listen port (default: API port + 1)
	Port int `yaml:"port"`

	// Transport routes UDP mouse events: "usb" or "bluetooth"
	Transport string `yaml:"transport"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Input: InputConfig{
			KeypressDelayMs:  20,
			InterCharDelayMs: 10,
		},
		Bluetooth: BluetoothConfig{
			Enabled: true,
			Adapter: "hci0",
		},
		USB: USBConfig{
			Enabled:        true,
			KeyboardDevice: "/dev/hidg0",
			MouseDevice:    "/dev/hidg1",
		},
		UDP: UDPConfig{
			Enabled:   false,
			Port:      8081,
			Transport: "usb",
		},
	}
}

// KeypressDelay returns the configured press-to-release hold time.
func (c *Config) KeypressDelay() time.Duration {
	return time.Duration(c.Input.KeypressDelayMs) * time.Millisecond
}

// InterCharDelay returns the configured between-characters pause.
func (c *Config) InterCharDelay() time.Duration {
	return time.Duration(c.Input.InterCharDelayMs) * time.Millisecond
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
}

// NewManager creates a manager for the given config file path. An empty
// path selects the per-user default location.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		var err error
		path, err = defaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}, nil
}

// defaultConfigPath returns the per-user configuration file path,
// creating the directory if needed.
func defaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(base, "hidlink")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk. A missing file is not an
// error; defaults stay in effect.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	log.Debugf("Saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0o644)
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set updates the configuration
func (m *Manager) Set(config *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}
