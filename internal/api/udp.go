package api

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"hidlink/internal/input"
	"hidlink/internal/protocol"
)

// UDPListener is the low-latency mouse path: agents stream binary move
// and scroll packets instead of POSTing each one. Stale packets (lower
// sequence number than the newest seen) are dropped, never replayed.
type UDPListener struct {
	mouse   input.Mouse
	conn    *net.UDPConn
	lastSeq uint32
	done    chan struct{}
}

// StartUDPListener binds addr and starts dispatching packets to mouse.
func StartUDPListener(addr string, mouse input.Mouse) (*UDPListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve UDP addr %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", addr, err)
	}

	l := &UDPListener{
		mouse: mouse,
		conn:  conn,
		done:  make(chan struct{}),
	}
	go l.readLoop()
	log.Infof("UDP mouse listener on %s", addr)
	return l, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Close stops the listener and waits for the read loop to exit.
func (l *UDPListener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}

func (l *UDPListener) readLoop() {
	defer close(l.done)
	buf := make([]byte, 64)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warnf("UDP read failed: %v", err)
			}
			return
		}

		pkt, err := protocol.DecodeUDPPacket(buf[:n])
		if err != nil {
			log.Debugf("UDP: dropping malformed packet: %v", err)
			continue
		}

		if pkt.Type == protocol.UDPPacketHeartbeat {
			continue
		}
		if pkt.Seq <= l.lastSeq && l.lastSeq-pkt.Seq < 1<<31 {
			log.Debugf("UDP: dropping stale packet seq=%d (latest=%d)", pkt.Seq, l.lastSeq)
			continue
		}
		l.lastSeq = pkt.Seq

		switch pkt.Type {
		case protocol.UDPPacketMouseMove:
			if err := l.mouse.Move(int(pkt.DeltaX), int(pkt.DeltaY)); err != nil {
				log.Debugf("UDP: move failed: %v", err)
			}
		case protocol.UDPPacketMouseScroll:
			if err := l.mouse.Scroll(int(pkt.Amount)); err != nil {
				log.Debugf("UDP: scroll failed: %v", err)
			}
		}
	}
}
