package monitor

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/aulachat/aulachat/internal/chat"
	"github.com/aulachat/aulachat/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// client is one websocket subscriber of the event feed.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan chat.Event
	remote string
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:    hub,
		conn:   conn,
		send:   make(chan chat.Event, 64),
		remote: conn.RemoteAddr().String(),
	}
}

// writePump streams events to the websocket until the send channel closes.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				logger.Debug("Monitor client %s write failed: %v", c.remote, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice disconnects and keep pong handling alive.
func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
