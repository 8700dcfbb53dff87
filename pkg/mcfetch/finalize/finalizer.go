// Package finalize stores downloaded files in their permanent blob bucket and derives
// thumbnails for images.
package finalize

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"os"

	"github.com/apex/log"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

const sniffLen = 512

// BlobFinalizer writes finalized files to a gocloud bucket under File.BlobKey and records the
// result on the file row.
type BlobFinalizer struct {
	bucket   *blob.Bucket
	fileStor stor.FileStor

	// thumbnailSize is the longest side of a generated thumbnail.
	thumbnailSize int
}

func NewBlobFinalizer(bucket *blob.Bucket, fileStor stor.FileStor) *BlobFinalizer {
	return &BlobFinalizer{bucket: bucket, fileStor: fileStor, thumbnailSize: DefaultThumbnailSize}
}

// OpenBucket opens a bucket URL such as file:///var/lib/mcfetch/store or mem://.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open bucket %s", bucketURL)
	}

	return bucket, nil
}

// Finalize copies path into the bucket, computing its md5 on the way. When contentTypeHint is
// empty the type is sniffed from the first bytes. With move set the source is removed once it
// is stored.
func (f *BlobFinalizer) Finalize(ctx context.Context, file *mcmodel.File, path, contentTypeHint string, move bool) error {
	src, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", path)
	}
	defer src.Close()

	r := bufio.NewReaderSize(src, 64*1024)
	contentType := normalizeContentType(contentTypeHint)
	if contentType == "" {
		head, _ := r.Peek(sniffLen)
		contentType = normalizeContentType(http.DetectContentType(head))
	}

	key := file.BlobKey()
	size, checksum, err := f.write(ctx, key, contentType, r)
	if err != nil {
		return err
	}

	if err := f.fileStor.UpdateFinalized(file.ID, key, checksum, contentType, size); err != nil {
		return errors.Wrapf(err, "unable to record finalized file %d", file.ID)
	}

	file.StorageKey = key
	file.Checksum = checksum
	file.MimeType = contentType
	file.Size = size

	log.WithField("file_id", file.ID).Infof("Stored %d bytes at %s (%s)", size, key, contentType)

	if move {
		_ = src.Close()
		if err := os.Remove(path); err != nil {
			log.Warnf("Unable to remove %s after finalize: %s", path, err)
		}
	}

	return nil
}

func (f *BlobFinalizer) write(ctx context.Context, key, contentType string, r io.Reader) (int64, string, error) {
	// Canceling the writer's context before Close discards a partial object.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := f.bucket.NewWriter(writeCtx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return 0, "", errors.Wrapf(err, "unable to create blob %s", key)
	}

	hasher := md5.New()
	size, err := io.Copy(io.MultiWriter(w, hasher), r)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, "", errors.Wrapf(err, "unable to write blob %s", key)
	}

	if err := w.Close(); err != nil {
		return 0, "", errors.Wrapf(err, "unable to close blob %s", key)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// normalizeContentType drops parameters such as charset.
func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}

	return mediaType
}
