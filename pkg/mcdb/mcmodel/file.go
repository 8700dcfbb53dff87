package mcmodel

import (
	"path"
	"strings"
	"time"
)

// File is the owning file record a download fills in. Size and MimeType may be unknown when the
// transfer is enqueued and are backfilled as the pipeline learns them.
type File struct {
	ID               int       `json:"id"`
	UUID             string    `json:"uuid"`
	Name             string    `json:"name"`
	MimeType         string    `json:"mime_type"`
	Size             int64     `json:"size"`
	Checksum         string    `json:"checksum"`
	Referer          string    `json:"referer"`
	DownloadProgress int       `json:"download_progress"`
	StorageKey       string    `json:"storage_key"`
	PreviewKey       string    `json:"preview_key"`
	PreviewWidth     int       `json:"preview_width"`
	PreviewHeight    int       `json:"preview_height"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (File) TableName() string {
	return "files"
}

// BlobKey is where the finalized bytes live in the permanent store. Files are fanned out over
// two directory levels taken from the second group of the UUID.
func (f File) BlobKey() string {
	uuidParts := strings.Split(f.UUID, "-")
	if len(uuidParts) < 2 || len(uuidParts[1]) < 4 {
		return path.Join("misc", f.UUID)
	}

	return path.Join(uuidParts[1][0:2], uuidParts[1][2:4], f.UUID)
}

// ThumbnailKey is where a derived preview image is stored.
func (f File) ThumbnailKey() string {
	return f.BlobKey() + ".thumb.jpg"
}

func (f File) IsImage() bool {
	switch f.MimeType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	default:
		return false
	}
}
