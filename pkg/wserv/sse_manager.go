package wserv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
)

type sseSubscriber struct {
	filter int
	events chan Message
}

// SSEManager manages Server-Sent Events subscribers. Each subscriber may be filtered to a
// single transfer.
type SSEManager struct {
	subscribers map[string]*sseSubscriber
	nextID      atomic.Int64

	// mu protects subscribers
	mu sync.RWMutex

	keepAlive time.Duration
}

func NewSSEManager() *SSEManager {
	return &SSEManager{
		subscribers: make(map[string]*sseSubscriber),
		keepAlive:   30 * time.Second,
	}
}

// RegisterConnection adds a subscriber and returns its id and event channel.
func (s *SSEManager) RegisterConnection(filter int) (string, chan Message) {
	eventChan := make(chan Message, 256)
	connectionID := fmt.Sprintf("sse-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[connectionID] = &sseSubscriber{filter: filter, events: eventChan}

	return connectionID, eventChan
}

func (s *SSEManager) UnregisterConnection(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[connectionID]; ok {
		close(sub.events)
		delete(s.subscribers, connectionID)
	}

	log.Debugf("SSE connection %s closed", connectionID)
}

// Broadcast sends msg to every subscriber interested in transferID. Subscribers with a full
// channel miss the message.
func (s *SSEManager) Broadcast(transferID int, msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, sub := range s.subscribers {
		if !wants(sub.filter, transferID) {
			continue
		}

		select {
		case sub.events <- msg:
		default:
			log.Debugf("SSE subscriber %s channel full, dropping", id)
		}
	}
}

// HandleSSE streams events to the client until it disconnects.
func (s *SSEManager) HandleSSE(w http.ResponseWriter, r *http.Request, filter int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	connectionID, eventChan := s.RegisterConnection(filter)
	defer s.UnregisterConnection(connectionID)

	_, _ = fmt.Fprintf(w, "data: {\"event\":\"connected\",\"transfer_id\":%d}\n\n", filter)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-eventChan:
			if !ok {
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				log.Errorf("Error marshalling SSE message: %s", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-ticker.C:
			_, _ = fmt.Fprintf(w, "data: {\"event\":\"keepalive\"}\n\n")
			flusher.Flush()
		}
	}
}

func (s *SSEManager) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
