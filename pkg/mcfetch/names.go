package mcfetch

import (
	"net/url"
	"path"
	"strings"

	"github.com/gosimple/slug"
)

const defaultFileName = "download"

// FileNameFromURL derives a safe file name from the last path element of rawURL. The stem is
// slugified and the extension kept (lower cased) when it is plain alphanumerics.
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultFileName
	}

	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return defaultFileName
	}

	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	name := slug.Make(stem)
	if name == "" {
		name = defaultFileName
	}

	if ext != "" && isAlphanumeric(ext) {
		name += "." + ext
	}

	return name
}

// DomainOf is the host a transfer is admitted under, lower cased and without a port.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	return strings.ToLower(u.Hostname()), nil
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}

	return true
}
