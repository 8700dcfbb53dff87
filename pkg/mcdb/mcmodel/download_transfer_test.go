package mcmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadTransferPercent(t *testing.T) {
	total := int64(1000)
	zero := int64(0)

	tests := []struct {
		name       string
		total      *int64
		downloaded int64
		want       *int
	}{
		{name: "unknown total", total: nil, downloaded: 10, want: nil},
		{name: "zero total", total: &zero, downloaded: 0, want: nil},
		{name: "floors", total: &total, downloaded: 999, want: intPtr(99)},
		{name: "complete", total: &total, downloaded: 1000, want: intPtr(100)},
		{name: "clamps", total: &total, downloaded: 1500, want: intPtr(100)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tr := DownloadTransfer{BytesTotal: test.total, BytesDownloaded: test.downloaded}
			got := tr.Percent()
			if test.want == nil {
				assert.Nil(t, got)
				return
			}

			require.NotNil(t, got)
			assert.Equal(t, *test.want, *got)
		})
	}
}

func TestTransferStatusSets(t *testing.T) {
	assert.True(t, TransferDownloading.IsActive())
	assert.False(t, TransferPreviewing.IsActive())
	assert.False(t, TransferPending.IsActive())
	assert.True(t, TransferPaused.IsTerminal())
	assert.False(t, TransferAssembling.IsTerminal())
}

func TestFileBlobKey(t *testing.T) {
	f := File{UUID: "0cb2e5f3-7a41-4f3e-9b1c-2d8a6c1e4b55"}
	assert.Equal(t, "7a/41/0cb2e5f3-7a41-4f3e-9b1c-2d8a6c1e4b55", f.BlobKey())
	assert.Equal(t, "7a/41/0cb2e5f3-7a41-4f3e-9b1c-2d8a6c1e4b55.thumb.jpg", f.ThumbnailKey())
}

func intPtr(i int) *int {
	return &i
}
