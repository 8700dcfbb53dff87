package clog

import (
	"io"

	"github.com/apex/log"
)

const (
	TransferIDField = "transfer_id"
	ChunkField      = "chunk"
	DomainField     = "domain"
)

// Setup installs a Handler writing to w as the apex/log handler and returns it so callers can
// later redirect output.
func Setup(w io.WriteCloser, level log.Level) *Handler {
	h := NewHandler(w)
	log.SetHandler(h)
	log.SetLevel(level)
	return h
}

// SetLevelFromString sets the global level from a name such as "debug" or "warn".
func SetLevelFromString(s string) error {
	level, err := log.ParseLevel(s)
	if err != nil {
		return err
	}

	log.SetLevel(level)
	return nil
}

// ForTransfer returns an entry carrying the transfer id, used for every log line a pipeline
// step writes about a transfer.
func ForTransfer(transferID int) *log.Entry {
	return log.WithField(TransferIDField, transferID)
}

func ForChunk(transferID, index int) *log.Entry {
	return log.WithFields(log.Fields{
		TransferIDField: transferID,
		ChunkField:      index,
	})
}

func ForDomain(domain string) *log.Entry {
	return log.WithField(DomainField, domain)
}
