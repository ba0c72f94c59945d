package protocol

import (
	"encoding/binary"
	"errors"
)

// UDP packet types for the low-latency mouse path. TCP round trips add
// visible lag to continuous pointer motion, so agents may stream moves
// and scrolls over UDP instead of POSTing each one.
const (
	UDPPacketMouseMove   uint8 = 0x01
	UDPPacketMouseScroll uint8 = 0x02
	UDPPacketHeartbeat   uint8 = 0x10
)

// Header: [type(1)] [seq(4)] = 5 bytes. Sequence numbers let the
// receiver drop reordered motion packets instead of replaying them.
const UDPHeaderSize = 5

// UDPPacket is a binary-encoded mouse event.
//
// Wire format per type:
//
//	MouseMove   (0x01): header + dx(int16) + dy(int16) = 9 bytes
//	MouseScroll (0x02): header + amount(int16)         = 7 bytes
//	Heartbeat   (0x10): header only                    = 5 bytes
type UDPPacket struct {
	Type   uint8
	Seq    uint32
	DeltaX int16 // mouse move
	DeltaY int16 // mouse move
	Amount int16 // scroll
}

// EncodeUDPPacket serializes a UDPPacket to wire format.
func EncodeUDPPacket(pkt *UDPPacket) []byte {
	size := UDPHeaderSize
	switch pkt.Type {
	case UDPPacketMouseMove:
		size += 4 // dx(2) + dy(2)
	case UDPPacketMouseScroll:
		size += 2 // amount(2)
	}

	buf := make([]byte, size)
	buf[0] = pkt.Type
	binary.BigEndian.PutUint32(buf[1:5], pkt.Seq)

	payload := buf[UDPHeaderSize:]
	switch pkt.Type {
	case UDPPacketMouseMove:
		binary.BigEndian.PutUint16(payload[0:2], uint16(pkt.DeltaX))
		binary.BigEndian.PutUint16(payload[2:4], uint16(pkt.DeltaY))
	case UDPPacketMouseScroll:
		binary.BigEndian.PutUint16(payload[0:2], uint16(pkt.Amount))
	}

	return buf
}

// DecodeUDPPacket deserializes wire bytes into a UDPPacket.
func DecodeUDPPacket(data []byte) (*UDPPacket, error) {
	if len(data) < UDPHeaderSize {
		return nil, errors.New("udp: packet too short")
	}

	pkt := &UDPPacket{
		Type: data[0],
		Seq:  binary.BigEndian.Uint32(data[1:5]),
	}

	payload := data[UDPHeaderSize:]
	switch pkt.Type {
	case UDPPacketMouseMove:
		if len(payload) < 4 {
			return nil, errors.New("udp: mouse move payload too short")
		}
		pkt.DeltaX = int16(binary.BigEndian.Uint16(payload[0:2]))
		pkt.DeltaY = int16(binary.BigEndian.Uint16(payload[2:4]))
	case UDPPacketMouseScroll:
		if len(payload) < 2 {
			return nil, errors.New("udp: mouse scroll payload too short")
		}
		pkt.Amount = int16(binary.BigEndian.Uint16(payload[0:2]))
	case UDPPacketHeartbeat:
		// no payload
	default:
		return nil, errors.New("udp: unknown packet type")
	}

	return pkt, nil
}
