package wserv

import (
	"time"
)

// Connection is the part of *websocket.Conn a client connection uses.
type Connection interface {
	ReadJSON(v any) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)

	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error

	Close() error
}
