package sdp

import (
	"fmt"
	"os"
	"strings"

	dbus "github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
)

const (
	bluezService        = "org.bluez"
	bluezPath           = dbus.ObjectPath("/org/bluez")
	profileManagerIface = "org.bluez.ProfileManager1"
	profileIface        = "org.bluez.Profile1"

	// HumanInterfaceDeviceService base UUID.
	hidUUID = "00001124-0000-1000-8000-00805f9b34fb"

	profilePath = dbus.ObjectPath("/org/hidlink/hid_profile")
)

// hidProfile is the org.bluez.Profile1 object exported alongside the SDP
// record. The HID channels are bound directly over L2CAP by the server, so
// the profile callbacks only have to keep BlueZ happy and avoid leaking any
// fd it hands us.
type hidProfile struct{}

func (p *hidProfile) Release() *dbus.Error { return nil }

func (p *hidProfile) Cancel() *dbus.Error { return nil }

func (p *hidProfile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *hidProfile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	// Connections arrive on our own PSM 17/19 listeners; BlueZ should not
	// be routing sockets here, but close anything it does deliver.
	log.Debugf("SDP profile NewConnection from %s (fd %d), closing", dev, fd)
	_ = os.NewFile(uintptr(fd), "hid-profile").Close()
	return nil
}

// RegisterProfile registers the HID combo SDP record with BlueZ via
// org.bluez.ProfileManager1. "Already exists" and "not permitted" replies
// are treated as success so repeated startups are idempotent; any other
// failure is returned to the caller.
func RegisterProfile(conn *dbus.Conn) error {
	if err := conn.Export(&hidProfile{}, profilePath, profileIface); err != nil {
		return fmt.Errorf("export HID profile object: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Role":                  dbus.MakeVariant("server"),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
		"AutoConnect":           dbus.MakeVariant(true),
		"ServiceRecord":         dbus.MakeVariant(BuildServiceRecord()),
	}

	pm := conn.Object(bluezService, bluezPath)
	call := pm.Call(profileManagerIface+".RegisterProfile", 0, profilePath, hidUUID, opts)
	if call.Err != nil {
		errStr := call.Err.Error()
		switch {
		case strings.Contains(errStr, "AlreadyExists"),
			strings.Contains(strings.ToLower(errStr), "already registered"):
			log.Info("Bluetooth HID profile already registered")
			return nil
		case strings.Contains(errStr, "NotPermitted"):
			log.Info("Bluetooth HID profile registration not permitted (may already be active)")
			return nil
		default:
			return fmt.Errorf("register HID profile: %w", call.Err)
		}
	}

	log.Info("Bluetooth HID combo profile registered with BlueZ")
	return nil
}

// UnregisterProfile removes the HID record from BlueZ. Best effort; used
// during shutdown.
func UnregisterProfile(conn *dbus.Conn) {
	pm := conn.Object(bluezService, bluezPath)
	if call := pm.Call(profileManagerIface+".UnregisterProfile", 0, profilePath); call.Err != nil {
		log.Debugf("UnregisterProfile: %v", call.Err)
	}
	_ = conn.Export(nil, profilePath, profileIface)
}
