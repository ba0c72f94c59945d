// hidlink - Bluetooth/USB HID bridge
// Presents this machine as a HID keyboard+mouse over Bluetooth and a
// USB gadget, actuated through a REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"

	"hidlink/internal/api"
	"hidlink/internal/bthid"
	"hidlink/internal/config"
	"hidlink/internal/input"
	"hidlink/internal/sdp"
	"hidlink/internal/usbhid"
)

var (
	version     = "0.1.0"
	configPath  = flag.String("config", "", "Path to config file (default: per-user config dir)")
	listenAddr  = flag.String("addr", "", "API listen address, overrides config (e.g. 0.0.0.0:8080)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	noBluetooth = flag.Bool("no-bluetooth", false, "Disable the Bluetooth HID server")
	noUSB       = flag.Bool("no-usb", false, "Disable the USB gadget writers")
	showVer     = flag.Bool("version", false, "Show version")
)

// Interface satisfaction is checked here so the packages stay decoupled.
var (
	_ input.Keyboard = (*bthid.Server)(nil)
	_ input.Mouse    = (*bthid.Server)(nil)
	_ input.Keyboard = (*usbhid.Keyboard)(nil)
	_ input.Mouse    = (*usbhid.Mouse)(nil)
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("hidlink version %s\n", version)
		return
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", *logLevel, err)
	}
	log.SetLevel(level)

	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	if err := cfgMgr.Load(); err != nil {
		log.Warnf("Failed to load config from %s: %v", cfgMgr.Path(), err)
	}
	cfg := cfgMgr.Get()

	if *noBluetooth {
		cfg.Bluetooth.Enabled = false
	}
	if *noUSB {
		cfg.USB.Enabled = false
	}

	run(cfg)
}

func run(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// USB gadget writers. A missing gadget node is not fatal; the USB
	// endpoints return 503 until it exists and the bridge is reopened.
	var usbKeyboard *usbhid.Keyboard
	var usbMouse *usbhid.Mouse
	if cfg.USB.Enabled {
		usbKeyboard = usbhid.NewKeyboard(usbhid.KeyboardConfig{
			DevicePath:     cfg.USB.KeyboardDevice,
			KeypressDelay:  cfg.KeypressDelay(),
			InterCharDelay: cfg.InterCharDelay(),
		})
		if err := usbKeyboard.Open(); err != nil {
			log.Warnf("USB keyboard unavailable: %v", err)
		}
		usbMouse = usbhid.NewMouse(usbhid.MouseConfig{DevicePath: cfg.USB.MouseDevice})
		if err := usbMouse.Open(); err != nil {
			log.Warnf("USB mouse unavailable: %v", err)
		}
		defer usbKeyboard.Close()
		defer usbMouse.Close()
	}

	// Bluetooth HID server. Any setup failure leaves bt nil; the /bt
	// endpoints then answer 503 and the rest of the bridge still works.
	var bt *bthid.Server
	var busConn *dbus.Conn
	if cfg.Bluetooth.Enabled {
		bt, busConn = setupBluetooth(cfg)
	}
	if busConn != nil {
		defer busConn.Close()
		defer sdp.UnregisterProfile(busConn)
	}
	if bt != nil {
		defer bt.Stop()
	}

	var btDev api.BluetoothDevice
	if bt != nil {
		btDev = bt
	}
	var gk api.GadgetKeyboard
	if usbKeyboard != nil {
		gk = usbKeyboard
	}
	var gm api.GadgetMouse
	if usbMouse != nil {
		gm = usbMouse
	}
	apiServer := api.NewServer(cfg.API.Token, btDev, gk, gm)

	if bt != nil {
		go acceptLoop(ctx, bt, apiServer)
	}

	// Optional low-latency UDP mouse path.
	var udpListener *api.UDPListener
	if cfg.UDP.Enabled {
		var mouse input.Mouse
		switch {
		case cfg.UDP.Transport == "bluetooth" && bt != nil:
			mouse = bt
		case usbMouse != nil:
			mouse = usbMouse
		}
		if mouse == nil {
			log.Warnf("UDP mouse path enabled but transport %q has no backend", cfg.UDP.Transport)
		} else {
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.UDP.Port)
			l, err := api.StartUDPListener(addr, mouse)
			if err != nil {
				log.Warnf("UDP mouse path unavailable: %v", err)
			} else {
				udpListener = l
				defer udpListener.Close()
			}
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	if *listenAddr != "" {
		addr = *listenAddr
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- apiServer.Start(addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received %s, shutting down...", sig)
	case err := <-serveErr:
		if err != nil {
			log.Errorf("API server failed: %v", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("API server shutdown: %v", err)
	}
}

// setupBluetooth configures the adapter, registers the pairing agent and
// the HID profile record, and starts the L2CAP listeners. Every step is
// logged; on failure the Bluetooth side is disabled rather than taking
// the whole bridge down.
func setupBluetooth(cfg *config.Config) (*bthid.Server, *dbus.Conn) {
	busConn, err := dbus.SystemBus()
	if err != nil {
		log.Warnf("Bluetooth disabled: system D-Bus unavailable: %v", err)
		return nil, nil
	}

	if err := sdp.ConfigureAdapter(cfg.Bluetooth.Adapter); err != nil {
		log.Warnf("Adapter %s configuration incomplete: %v", cfg.Bluetooth.Adapter, err)
	}
	if err := sdp.RegisterPairingAgent(busConn); err != nil {
		log.Warnf("Pairing agent not registered (pairing may need manual confirmation): %v", err)
	}
	if err := sdp.RegisterProfile(busConn); err != nil {
		log.Warnf("Bluetooth disabled: HID profile registration failed: %v", err)
		return nil, busConn
	}

	bt := bthid.NewServer(bthid.Config{
		KeypressDelay:  cfg.KeypressDelay(),
		InterCharDelay: cfg.InterCharDelay(),
	})
	if err := bt.Start(); err != nil {
		log.Warnf("Bluetooth disabled: %v", err)
		log.Warn("Hint: bluetoothd's input plugin may own the HID PSMs; start it with -P input")
		return nil, busConn
	}
	return bt, busConn
}

// acceptLoop serves one Bluetooth peer at a time, broadcasting state
// changes to WebSocket subscribers and going back to listening whenever
// the peer drops.
func acceptLoop(ctx context.Context, bt *bthid.Server, apiServer *api.Server) {
	for {
		addr, err := bt.WaitForConnection(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bthid.ErrStopped) {
				return
			}
			log.Warnf("Bluetooth accept failed: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		log.Infof("Bluetooth HID connected to %s", addr)
		apiServer.BroadcastState(true, addr)

		select {
		case <-bt.Disconnected():
			apiServer.BroadcastState(false, "")
		case <-ctx.Done():
			return
		}
	}
}
