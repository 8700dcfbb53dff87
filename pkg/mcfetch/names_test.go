package mcfetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://example.com/files/data.bin", want: "data.bin"},
		{url: "https://example.com/My%20Report%20(final).PDF", want: "my-report-final.pdf"},
		{url: "https://example.com/", want: "download"},
		{url: "https://example.com", want: "download"},
		{url: "https://example.com/watch?v=abc", want: "watch"},
		{url: "https://example.com/archive.tar.gz", want: "archive-tar.gz"},
	}

	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			assert.Equal(t, test.want, FileNameFromURL(test.url))
		})
	}
}

func TestDomainOf(t *testing.T) {
	domain, err := DomainOf("https://Files.Example.com:8443/a")
	assert.NoError(t, err)
	assert.Equal(t, "files.example.com", domain)
}
