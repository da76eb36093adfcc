package relay

import (
	"github.com/gorilla/websocket"

	"github.com/SphrGhfri/tabchat/pkg/logger"
)

// Connection represents a single WebSocket connection to a relay client.
type Connection struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger logger.Logger
}

func NewConnection(ws *websocket.Conn, hub *Hub, logg logger.Logger) *Connection {
	return &Connection{
		ws:     ws,
		send:   make(chan []byte, 256),
		hub:    hub,
		logger: logg,
	}
}

// Serve registers the connection and runs its pumps until it drops.
func (c *Connection) Serve() {
	c.hub.Register <- c
	go c.writePump()
	c.readPump()
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.Unregister <- c
		c.ws.Close()
	}()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debugf("[RELAY] Read ended for %s: %v", c.ws.RemoteAddr(), err)
			return
		}
		c.hub.broadcast <- frame{payload: payload, origin: c}
	}
}

// writePump listens on the send channel and forwards frames to the socket.
func (c *Connection) writePump() {
	defer c.ws.Close()

	for payload := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.logger.Debugf("[RELAY] Write ended for %s: %v", c.ws.RemoteAddr(), err)
			return
		}
	}
}
