//go:build linux

package bthid

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// listenHID opens a SEQPACKET L2CAP listener bound to BDADDR_ANY on the
// given PSM. Binding fails if the radio is down or another process (often
// bluetoothd's input plugin) already owns the PSM.
var listenHID ListenFunc = func(psm uint16) (Listener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("create L2CAP socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrL2{PSM: psm}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind L2CAP PSM 0x%02X: %w", psm, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen on PSM 0x%02X: %w", psm, err)
	}
	return &l2capListener{fd: fd, psm: psm}, nil
}

type l2capListener struct {
	fd  int
	psm uint16

	mu     sync.Mutex
	closed bool
}

func (l *l2capListener) Accept() (io.ReadWriteCloser, string, error) {
	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		return nil, "", fmt.Errorf("accept on PSM 0x%02X: %w", l.psm, err)
	}
	var addr string
	if l2, ok := sa.(*unix.SockaddrL2); ok {
		addr = formatBDAddr(l2.Addr)
	}
	return os.NewFile(uintptr(nfd), fmt.Sprintf("l2cap-psm-0x%02X", l.psm)), addr, nil
}

func (l *l2capListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	// Shutdown first so a blocked Accept wakes up before the fd goes away.
	_ = unix.Shutdown(l.fd, unix.SHUT_RDWR)
	return unix.Close(l.fd)
}

// formatBDAddr renders a kernel byte-order (little-endian) Bluetooth
// address in the usual display order.
func formatBDAddr(a [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
