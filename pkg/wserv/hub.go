// Package wserv pushes transfer events to browsers over websockets and Server-Sent Events.
package wserv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/broadcast"
)

// ErrHubBusy is returned by Publish when the hub's queue is full and the event was dropped.
var ErrHubBusy = errors.New("event hub queue full")

// Hub fans transfer events out to websocket and SSE subscribers. It implements
// broadcast.EventPublisher.
type Hub struct {
	ws     *WebSocketManager
	sse    *SSEManager
	events chan broadcast.Event

	upgrader websocket.Upgrader
	nextID   atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		ws:     NewWebSocketManager(),
		sse:    NewSSEManager(),
		events: make(chan broadcast.Event, 1024),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Publish queues e for delivery. It never blocks.
func (h *Hub) Publish(e broadcast.Event) error {
	select {
	case h.events <- e:
		return nil
	default:
		return ErrHubBusy
	}
}

// Run services registrations and delivers events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.ws.register:
			h.ws.HandleRegister(client)

		case client := <-h.ws.unregister:
			h.ws.HandleUnregister(client)

		case e := <-h.events:
			msg := eventMessage(e)
			h.ws.Broadcast(e.TransferID, msg)
			h.sse.Broadcast(e.TransferID, msg)
		}
	}
}

// ServeWS upgrades the request and starts the client's read and write pumps. filter limits
// the client to one transfer; 0 means all.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, filter int) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &ClientConnection{
		ID:     fmt.Sprintf("ws-%d", h.nextID.Add(1)),
		Conn:   conn,
		Send:   make(chan Message, 256),
		Hub:    h,
		filter: filter,
	}

	h.ws.Register() <- client
	log.Debugf("WebSocket client %s connected from %s", client.ID, r.RemoteAddr)

	go client.writePump()
	go client.readPump()
	return nil
}

func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, filter int) {
	h.sse.HandleSSE(w, r, filter)
}
