package wserv

import (
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcfetch/broadcast"
)

const (
	// Server to client
	MsgTransferEvent = "TRANSFER_EVENT"
	MsgHeartbeatAck  = "HEARTBEAT_ACK"

	// Client to server
	MsgHeartbeat   = "HEARTBEAT"
	MsgSubscribe   = "SUBSCRIBE"
	MsgUnsubscribe = "UNSUBSCRIBE"
)

type Message struct {
	Command   string    `json:"command"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// SubscribePayload narrows a websocket client to one transfer. A TransferID of 0 means all
// transfers.
type SubscribePayload struct {
	TransferID int `json:"transfer_id"`
}

func eventMessage(e broadcast.Event) Message {
	return Message{
		Command:   MsgTransferEvent,
		Timestamp: e.At,
		Payload:   e,
	}
}

// wants reports whether a subscriber filtering on filter should get an event for transferID.
func wants(filter, transferID int) bool {
	return filter == 0 || filter == transferID
}
