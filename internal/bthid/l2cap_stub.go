//go:build !linux

package bthid

import "fmt"

// Bluetooth HID needs BlueZ and kernel L2CAP sockets; only Linux has them.
var listenHID ListenFunc = func(psm uint16) (Listener, error) {
	return nil, fmt.Errorf("bluetooth HID is only supported on Linux (PSM 0x%02X)", psm)
}
