package broadcast

import (
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
)

// Event is the notification sent to subscribers when a transfer changes.
type Event struct {
	TransferID int                    `json:"transfer_id"`
	FileID     int                    `json:"file_id"`
	Domain     string                 `json:"domain"`
	Status     mcmodel.TransferStatus `json:"status"`
	Percent    *int                   `json:"percent"`
	Error      string                 `json:"error,omitempty"`
	At         time.Time              `json:"at"`
}

// EventPublisher delivers events to whatever transport subscribers listen on. Publish must
// not block.
type EventPublisher interface {
	Publish(e Event) error
}

func EventFromTransfer(t *mcmodel.DownloadTransfer) Event {
	return Event{
		TransferID: t.ID,
		FileID:     t.FileID,
		Domain:     t.Domain,
		Status:     t.Status,
		Percent:    t.Percent(),
		Error:      t.Error,
		At:         time.Now(),
	}
}
