package sdp

import (
	"fmt"

	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	log "github.com/sirupsen/logrus"
)

// ConfigureAdapter makes the local radio reachable for pairing: powered,
// discoverable without timeout, pairable. Each property is set
// independently; a refusal on one (already set, rfkill, ...) is logged and
// the rest are still attempted. Safe to call on every startup.
func ConfigureAdapter(adapterID string) error {
	a, err := adapter.GetAdapter(adapterID)
	if err != nil {
		return fmt.Errorf("get adapter %s: %w", adapterID, err)
	}

	props := []struct {
		name string
		set  func() error
	}{
		{"Powered", func() error { return a.SetPowered(true) }},
		{"Discoverable", func() error { return a.SetDiscoverable(true) }},
		{"DiscoverableTimeout", func() error { return a.SetDiscoverableTimeout(0) }},
		{"Pairable", func() error { return a.SetPairable(true) }},
	}
	for _, p := range props {
		if err := p.set(); err != nil {
			log.Debugf("Could not set adapter %s: %v (may already be set)", p.name, err)
		}
	}

	log.Info("Bluetooth adapter configured: discoverable + pairable")
	return nil
}
