package api

import (
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hidlink/internal/protocol"
)

func TestWebSocketBroadcastsStateAndActions(t *testing.T) {
	srv := NewServer("", nil, &fakeKeyboard{}, nil)
	go srv.wsMgr.start()
	defer srv.wsMgr.stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to register the subscriber.
	time.Sleep(100 * time.Millisecond)

	srv.BroadcastState(true, "AA:BB:CC:DD:EE:FF")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, protocol.TypeState, msg.Type)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, payload["bt_connected"])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", payload["peer_address"])

	// Successful actuations are broadcast too.
	rec := postJSON(t, srv.Handler(), "/keystroke", map[string]string{"key": "Enter"})
	require.Equal(t, 200, rec.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, protocol.TypeAction, msg.Type)
	payload, ok = msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "keystroke", payload["action"])
	assert.Equal(t, "usb", payload["transport"])
}

func TestUDPListenerDispatchesMouseEvents(t *testing.T) {
	mouse := &fakeMouse{}
	l, err := StartUDPListener("127.0.0.1:0", mouse)
	require.NoError(t, err)
	defer l.Close()

	conn, err := net.Dial("udp4", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	send := func(pkt *protocol.UDPPacket) {
		_, err := conn.Write(protocol.EncodeUDPPacket(pkt))
		require.NoError(t, err)
	}

	send(&protocol.UDPPacket{Type: protocol.UDPPacketMouseMove, Seq: 1, DeltaX: 5, DeltaY: -5})
	send(&protocol.UDPPacket{Type: protocol.UDPPacketMouseScroll, Seq: 2, Amount: -3})
	// Stale: lower sequence than already seen, must be dropped.
	send(&protocol.UDPPacket{Type: protocol.UDPPacketMouseMove, Seq: 1, DeltaX: 9, DeltaY: 9})
	// Heartbeats carry no action.
	send(&protocol.UDPPacket{Type: protocol.UDPPacketHeartbeat, Seq: 3})

	require.Eventually(t, func() bool {
		mouse.mu.Lock()
		defer mouse.mu.Unlock()
		return len(mouse.calls) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// Let any stragglers land before asserting nothing extra arrived.
	time.Sleep(50 * time.Millisecond)
	mouse.mu.Lock()
	defer mouse.mu.Unlock()
	assert.Equal(t, []string{"move", "scroll"}, mouse.calls)
}
