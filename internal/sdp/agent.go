package sdp

import (
	"fmt"

	dbus "github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
)

const (
	agentManagerIface = "org.bluez.AgentManager1"
	agentIface        = "org.bluez.Agent1"
	agentPath         = dbus.ObjectPath("/org/hidlink/agent")
	agentCapability   = "NoInputNoOutput"
)

// pairingAgent is a NoInputNoOutput org.bluez.Agent1 that auto-accepts
// every pairing request. A HID bridge has no display or keypad to confirm
// passkeys with, so the host-side prompt is the only consent step.
type pairingAgent struct{}

func (a *pairingAgent) Release() *dbus.Error {
	log.Debug("Pairing agent released")
	return nil
}

func (a *pairingAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	log.Infof("AuthorizeService %s %s: accepted", device, uuid)
	return nil
}

func (a *pairingAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	log.Infof("RequestPinCode %s: 0000", device)
	return "0000", nil
}

func (a *pairingAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	log.Infof("RequestPasskey %s: 0", device)
	return 0, nil
}

func (a *pairingAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	log.Infof("DisplayPasskey %s: %06d", device, passkey)
	return nil
}

func (a *pairingAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	log.Infof("DisplayPinCode %s: %s", device, pincode)
	return nil
}

func (a *pairingAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	log.Infof("RequestConfirmation %s passkey=%06d: confirmed", device, passkey)
	return nil
}

func (a *pairingAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	log.Infof("RequestAuthorization %s: authorized", device)
	return nil
}

func (a *pairingAgent) Cancel() *dbus.Error {
	log.Debug("Pairing cancelled")
	return nil
}

// RegisterPairingAgent exports the auto-accept agent and makes it the
// default so incoming pairings complete without a local prompt. Non-fatal
// for the Bluetooth subsystem: callers may log the error and continue with
// whatever agent the system already runs.
func RegisterPairingAgent(conn *dbus.Conn) error {
	if err := conn.Export(&pairingAgent{}, agentPath, agentIface); err != nil {
		return fmt.Errorf("export pairing agent: %w", err)
	}

	am := conn.Object(bluezService, bluezPath)
	if call := am.Call(agentManagerIface+".RegisterAgent", 0, agentPath, agentCapability); call.Err != nil {
		return fmt.Errorf("register pairing agent: %w", call.Err)
	}
	if call := am.Call(agentManagerIface+".RequestDefaultAgent", 0, agentPath); call.Err != nil {
		return fmt.Errorf("set default pairing agent: %w", call.Err)
	}

	log.Infof("Pairing agent registered (%s)", agentCapability)
	return nil
}
