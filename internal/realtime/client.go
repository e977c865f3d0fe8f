package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents one websocket connection for an authenticated
// party.
type Client struct {
	identity string
	userID   uint
	userType string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
}

// UserID returns the authenticated party id behind this connection.
func (c *Client) UserID() uint {
	return c.userID
}

// UserType returns the party role (rider or driver).
func (c *Client) UserType() string {
	return c.userType
}

// HandleWebSocket upgrades the request and registers the client with
// the hub under its canonical identity key.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID uint, userType string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("websocket upgrade", "error", err)
		return
	}

	client := &Client{
		identity: IdentityKey(userID),
		userID:   userID,
		userType: userType,
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      hub,
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub's
// message handler.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read", "identity", c.identity, "error", err)
			}
			break
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			c.hub.logger.Warn("bad client event", "identity", c.identity, "error", err)
			continue
		}

		if c.hub.onMessage != nil {
			c.hub.onMessage(c, event)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.logger.Warn("websocket write", "identity", c.identity, "error", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
