package bthid

import "io"

// Listener accepts peer connections on one HID channel. The production
// implementation listens on an L2CAP PSM; tests substitute in-memory pipes.
type Listener interface {
	// Accept blocks until a peer connects, returning the connection and
	// the peer's address.
	Accept() (io.ReadWriteCloser, string, error)

	// Close shuts the listener down, unblocking any pending Accept.
	Close() error
}

// ListenFunc opens a listening endpoint on the given HID channel PSM.
type ListenFunc func(psm uint16) (Listener, error)
