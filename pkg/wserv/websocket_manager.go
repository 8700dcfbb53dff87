package wserv

import (
	"sync"

	"github.com/apex/log"
)

// WebSocketManager tracks websocket clients. Registration goes through channels serviced by
// Hub.Run; lookups and broadcasts take the lock directly.
type WebSocketManager struct {
	clients map[string]*ClientConnection

	register   chan *ClientConnection
	unregister chan *ClientConnection

	// mu protects clients
	mu sync.RWMutex
}

func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[string]*ClientConnection),
		register:   make(chan *ClientConnection),
		unregister: make(chan *ClientConnection),
	}
}

func (wsm *WebSocketManager) Register() chan<- *ClientConnection {
	return wsm.register
}

func (wsm *WebSocketManager) Unregister() chan<- *ClientConnection {
	return wsm.unregister
}

func (wsm *WebSocketManager) HandleRegister(client *ClientConnection) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()

	wsm.clients[client.ID] = client
	log.Debugf("WebSocket client registered: %s", client.ID)
}

func (wsm *WebSocketManager) HandleUnregister(client *ClientConnection) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()

	if _, ok := wsm.clients[client.ID]; ok {
		delete(wsm.clients, client.ID)
		close(client.Send)
	}

	log.Debugf("WebSocket client unregistered: %s", client.ID)
}

// Broadcast sends msg to every client interested in transferID.
func (wsm *WebSocketManager) Broadcast(transferID int, msg Message) {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()

	for _, client := range wsm.clients {
		if wants(client.Filter(), transferID) {
			client.trySend(msg)
		}
	}
}

func (wsm *WebSocketManager) ClientCount() int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	return len(wsm.clients)
}
