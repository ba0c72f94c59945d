package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"hidlink/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-network tool; subscribers authenticate via the bearer token.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager fans bridge events out to subscribed agents. Subscribers
// only listen; the event stream is one-way.
type WSManager struct {
	clients    map[*wsClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	stopOnce   sync.Once
}

// wsClient represents a connected subscriber
type wsClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager() *WSManager {
	return &WSManager{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan protocol.Message, 16),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			total := len(m.clients)
			m.clientsMu.Unlock()
			log.Infof("WS: New subscriber from %s. Total: %d", client.ip, total)

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				log.Infof("WS: Subscriber from %s gone. Total: %d", client.ip, len(m.clients))
			}
			m.clientsMu.Unlock()

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			m.clientsMu.Lock()
			for client := range m.clients {
				close(client.send)
				delete(m.clients, client)
			}
			m.clientsMu.Unlock()
			return
		}
	}
}

func (m *WSManager) stop() {
	m.stopOnce.Do(func() { close(m.shutdown) })
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Errorf("WS: Failed to marshal broadcast message: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			// Slow subscriber; drop it rather than stall the hub.
			close(client.send)
			delete(m.clients, client)
		}
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WS: Failed to upgrade connection: %v", err)
		return
	}

	client := &wsClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	m.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes incoming frames so pings and closes are processed.
// Subscriber messages carry no commands and are discarded.
func (c *wsClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debugf("WS: Read error: %v", err)
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastState pushes a Bluetooth connection-state change.
func (m *WSManager) BroadcastState(connected bool, peerAddr string) {
	m.enqueue(protocol.Message{
		Type: protocol.TypeState,
		Payload: protocol.StatePayload{
			BluetoothConnected: connected,
			PeerAddress:        peerAddr,
		},
	})
}

// BroadcastAction pushes an executed actuation event.
func (m *WSManager) BroadcastAction(action, transport, detail string) {
	m.enqueue(protocol.Message{
		Type: protocol.TypeAction,
		Payload: protocol.ActionPayload{
			Action:    action,
			Transport: transport,
			Detail:    detail,
		},
	})
}

// enqueue never blocks callers on a stalled hub.
func (m *WSManager) enqueue(msg protocol.Message) {
	select {
	case m.broadcast <- msg:
	case <-m.shutdown:
	default:
		log.Debug("WS: Broadcast queue full, dropping event")
	}
}
