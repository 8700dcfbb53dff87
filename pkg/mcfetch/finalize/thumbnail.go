package finalize

import (
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"golang.org/x/image/draw"
)

const DefaultThumbnailSize = 256

// GeneratePreviewAssets writes a jpeg thumbnail for image files and returns the preview
// columns to set. Other files get an empty update.
func (f *BlobFinalizer) GeneratePreviewAssets(ctx context.Context, file *mcmodel.File) (map[string]interface{}, error) {
	if !file.IsImage() {
		return map[string]interface{}{}, nil
	}

	key := file.StorageKey
	if key == "" {
		key = file.BlobKey()
	}

	r, err := f.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open blob %s", key)
	}
	defer r.Close()

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decode image %s", key)
	}

	thumb := Thumbnail(img, f.thumbnailSize)
	thumbKey := file.ThumbnailKey()

	w, err := f.bucket.NewWriter(ctx, thumbKey, &blob.WriterOptions{ContentType: "image/jpeg"})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create blob %s", thumbKey)
	}

	if err := jpeg.Encode(w, thumb, &jpeg.Options{Quality: 85}); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "unable to encode thumbnail for %s", key)
	}

	if err := w.Close(); err != nil {
		return nil, errors.Wrapf(err, "unable to close blob %s", thumbKey)
	}

	bounds := thumb.Bounds()
	return map[string]interface{}{
		"preview_key":    thumbKey,
		"preview_width":  bounds.Dx(),
		"preview_height": bounds.Dy(),
	}, nil
}

// Thumbnail scales img to fit within maxSize x maxSize, keeping its aspect ratio. Images that
// already fit are returned unchanged.
func Thumbnail(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}

	if w >= h {
		h = max(1, h*maxSize/w)
		w = maxSize
	} else {
		w = max(1, w*maxSize/h)
		h = maxSize
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
