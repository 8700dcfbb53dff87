package wserv

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
	writeWait  = 10 * time.Second
)

// ClientConnection is one websocket subscriber.
type ClientConnection struct {
	ID   string
	Conn Connection
	Send chan Message
	Hub  *Hub

	mu     sync.Mutex
	filter int
}

func (c *ClientConnection) Filter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *ClientConnection) setFilter(transferID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = transferID
}

func (c *ClientConnection) readPump() {
	defer func() {
		c.Hub.ws.Unregister() <- c
		_ = c.Conn.Close()
	}()

	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("WebSocket error on %s: %s", c.ID, err)
			}
			return
		}

		c.handleMessage(msg)
	}
}

func (c *ClientConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *ClientConnection) handleMessage(msg Message) {
	switch msg.Command {
	case MsgHeartbeat:
		c.trySend(Message{Command: MsgHeartbeatAck, ID: msg.ID, Timestamp: time.Now()})

	case MsgSubscribe:
		var payload SubscribePayload
		if err := decodePayload(msg.Payload, &payload); err != nil {
			log.Warnf("Bad %s payload from %s: %s", msg.Command, c.ID, err)
			return
		}
		c.setFilter(payload.TransferID)

	case MsgUnsubscribe:
		c.setFilter(0)

	default:
		log.Debugf("Ignoring command %q from %s", msg.Command, c.ID)
	}
}

// trySend queues msg without blocking. A client that isn't keeping up misses messages.
func (c *ClientConnection) trySend(msg Message) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		log.Debugf("Send buffer full for %s, dropping %s", c.ID, msg.Command)
		return false
	}
}

// decodePayload converts a generically decoded JSON payload into v.
func decodePayload(payload any, v any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, v)
}
