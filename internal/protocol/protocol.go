// Package protocol defines the messages the bridge pushes to WebSocket
// subscribers and the binary UDP packets of the low-latency mouse path.
package protocol

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeState is broadcast when the Bluetooth connection state changes
	TypeState MessageType = "state"

	// TypeAction is broadcast after an actuation request was executed
	TypeAction MessageType = "action"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StatePayload is the payload for TypeState
type StatePayload struct {
	BluetoothConnected bool   `json:"bt_connected"`
	PeerAddress        string `json:"peer_address,omitempty"`
}

// ActionPayload is the payload for TypeAction
type ActionPayload struct {
	Action    string `json:"action"`    // "keystroke", "key-combo", "text", "mouse-move", "mouse-click", "mouse-scroll"
	Transport string `json:"transport"` // "usb" or "bluetooth"
	Detail    string `json:"detail,omitempty"`
}
