package finalize

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/materials-commons/mcfetch/pkg/tutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFinalizer(t *testing.T) (*BlobFinalizer, stor.FileStor) {
	t.Helper()

	bucket, err := OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bucket.Close() })

	fileStor := stor.NewGormFileStor(tutil.OpenTestDB(t))
	return NewBlobFinalizer(bucket, fileStor), fileStor
}

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestFinalizeStoresBytesAndChecksum(t *testing.T) {
	f, fileStor := newTestFinalizer(t)
	file, err := fileStor.CreateFile(&mcmodel.File{Name: "notes.txt"})
	require.NoError(t, err)

	content := []byte("plain text that should sniff as text/plain\n")
	path := writeTemp(t, "single.tmp", content)

	require.NoError(t, f.Finalize(context.Background(), file, path, "", true))

	stored, err := f.bucket.ReadAll(context.Background(), file.BlobKey())
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "moved source should be removed")

	sum := md5.Sum(content)
	got, err := fileStor.GetFileByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), got.Checksum)
	assert.Equal(t, "text/plain", got.MimeType)
	assert.Equal(t, file.BlobKey(), got.StorageKey)
	assert.EqualValues(t, len(content), got.Size)
}

func TestFinalizeCopyKeepsSourceAndUsesHint(t *testing.T) {
	f, fileStor := newTestFinalizer(t)
	file, err := fileStor.CreateFile(&mcmodel.File{Name: "data.bin"})
	require.NoError(t, err)

	path := writeTemp(t, "assembled.tmp", []byte{1, 2, 3})
	require.NoError(t, f.Finalize(context.Background(), file, path, "application/x-hdf5; charset=binary", false))

	_, err = os.Stat(path)
	assert.NoError(t, err)

	got, err := fileStor.GetFileByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, "application/x-hdf5", got.MimeType)
}

func TestFinalizeMissingSource(t *testing.T) {
	f, fileStor := newTestFinalizer(t)
	file, err := fileStor.CreateFile(&mcmodel.File{Name: "gone"})
	require.NoError(t, err)

	err = f.Finalize(context.Background(), file, filepath.Join(t.TempDir(), "missing.tmp"), "", false)
	assert.Error(t, err)
}

func TestGeneratePreviewAssetsForImage(t *testing.T) {
	f, fileStor := newTestFinalizer(t)
	file, err := fileStor.CreateFile(&mcmodel.File{Name: "wide.png"})
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 1024, 512))
	for x := 0; x < 1024; x++ {
		img.Set(x, x%512, color.RGBA{R: 255, A: 255})
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := writeTemp(t, "single.tmp", buf.Bytes())
	require.NoError(t, f.Finalize(context.Background(), file, path, "", true))
	assert.Equal(t, "image/png", file.MimeType)

	updates, err := f.GeneratePreviewAssets(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, file.ThumbnailKey(), updates["preview_key"])
	assert.Equal(t, 256, updates["preview_width"])
	assert.Equal(t, 128, updates["preview_height"])

	thumb, err := f.bucket.ReadAll(context.Background(), file.ThumbnailKey())
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 256, decoded.Bounds().Dx())
}

func TestGeneratePreviewAssetsSkipsNonImages(t *testing.T) {
	f, _ := newTestFinalizer(t)

	updates, err := f.GeneratePreviewAssets(context.Background(), &mcmodel.File{ID: 1, MimeType: "application/pdf"})
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{name: "wide", w: 1000, h: 500, wantW: 256, wantH: 128},
		{name: "tall", w: 300, h: 1200, wantW: 64, wantH: 256},
		{name: "already small", w: 100, h: 80, wantW: 100, wantH: 80},
		{name: "thin", w: 2000, h: 2, wantW: 256, wantH: 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			thumb := Thumbnail(image.NewRGBA(image.Rect(0, 0, test.w, test.h)), DefaultThumbnailSize)
			assert.Equal(t, test.wantW, thumb.Bounds().Dx())
			assert.Equal(t, test.wantH, thumb.Bounds().Dy())
		})
	}
}
