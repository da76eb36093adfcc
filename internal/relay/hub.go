package relay

import (
	"sync"
)

// frame is a raw payload plus the connection it arrived on; the hub never
// parses chat content, it only echoes bytes to the other connections.
type frame struct {
	payload []byte
	origin  *Connection
}

// Hub fans every inbound frame out to all other registered connections.
// It holds no history and claims no authority over the chat state.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Connection]bool
	Register   chan *Connection
	Unregister chan *Connection
	broadcast  chan frame
	quit       chan struct{}
	once       sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Connection]bool),
		Register:   make(chan *Connection),
		Unregister: make(chan *Connection),
		broadcast:  make(chan frame, 64),
		quit:       make(chan struct{}),
	}
}

// Run starts the Hub's main loop for handling connections and broadcasts.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.Register:
			h.addClient(conn)
		case conn := <-h.Unregister:
			h.removeClient(conn)
		case f := <-h.broadcast:
			h.echoFrame(f)
		case <-h.quit:
			return
		}
	}
}

// Close gracefully shuts down the Hub, closing all connections.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.quit) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		close(conn.send)
		conn.ws.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) addClient(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) removeClient(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		close(conn.send)
	}
}

// echoFrame sends the frame to every client except its origin. A client
// that cannot keep up is dropped rather than allowed to stall the hub.
func (h *Hub) echoFrame(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if conn == f.origin {
			continue
		}
		select {
		case conn.send <- f.payload:
		default:
			delete(h.clients, conn)
			close(conn.send)
		}
	}
}
