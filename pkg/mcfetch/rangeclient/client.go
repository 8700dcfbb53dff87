// Package rangeclient is the outbound HTTP side of the pipeline: capability probes and
// streaming GETs, whole or by byte range.
package rangeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

var (
	// ErrUnexpectedStatus is wrapped by every status code the caller didn't ask for.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")

	ErrMalformedContentRange = errors.New("malformed Content-Range")
)

type Options struct {
	// HeaderTimeout bounds the wait for response headers. Bodies may take as long as they
	// need, so there's no overall request timeout.
	HeaderTimeout time.Duration

	UserAgent string

	MaxIdleConnsPerHost int
}

// HeadResult is what a HEAD request says about a resource.
type HeadResult struct {
	StatusCode    int
	ContentLength int64
	AcceptRanges  bool
	ContentType   string
}

// ProbeResult is what a "Range: bytes=0-0" GET says about a resource. Total is -1 when the
// server didn't return a usable Content-Range.
type ProbeResult struct {
	StatusCode int
	Total      int64
}

// Body is an open response stream.
type Body struct {
	StatusCode    int
	ContentLength int64
	ContentType   string
	io.ReadCloser
}

type Client struct {
	client *resty.Client
}

func New(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 32
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		// Range offsets refer to the stored bytes, never a decoded body.
		DisableCompression: true,
	}

	c := resty.New().SetTransport(transport)
	if opts.UserAgent != "" {
		c.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{client: c}
}

func (c *Client) request(ctx context.Context, referer string) *resty.Request {
	r := c.client.R().SetContext(ctx)
	if referer != "" {
		r.SetHeader("Referer", referer)
	}

	return r
}

// Head issues a HEAD request. Any status is returned to the caller; only transport failures
// are errors.
func (c *Client) Head(ctx context.Context, url, referer string) (*HeadResult, error) {
	resp, err := c.request(ctx, referer).Head(url)
	if err != nil {
		return nil, transportError("HEAD", url, err)
	}

	h := resp.Header()
	result := &HeadResult{
		StatusCode:    resp.StatusCode(),
		ContentLength: -1,
		AcceptRanges:  strings.EqualFold(strings.TrimSpace(h.Get("Accept-Ranges")), "bytes"),
		ContentType:   h.Get("Content-Type"),
	}

	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			result.ContentLength = n
		}
	}

	return result, nil
}

// ProbeRange requests the first byte of the resource to learn whether ranges are honored and
// how large it is.
func (c *Client) ProbeRange(ctx context.Context, url, referer string) (*ProbeResult, error) {
	resp, err := c.request(ctx, referer).
		SetDoNotParseResponse(true).
		SetHeader("Range", "bytes=0-0").
		Get(url)
	if err != nil {
		return nil, transportError("range probe", url, err)
	}

	body := resp.RawBody()
	defer body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))

	result := &ProbeResult{StatusCode: resp.StatusCode(), Total: -1}
	if result.StatusCode == http.StatusPartialContent {
		if _, _, total, err := ParseContentRange(resp.Header().Get("Content-Range")); err == nil {
			result.Total = total
		}
	}

	return result, nil
}

// GetRange opens the inclusive byte range [start, end]. Anything other than a 206 is an error
// wrapping ErrUnexpectedStatus.
func (c *Client) GetRange(ctx context.Context, url, referer string, start, end int64) (*Body, error) {
	resp, err := c.request(ctx, referer).
		SetDoNotParseResponse(true).
		SetHeader("Range", fmt.Sprintf("bytes=%d-%d", start, end)).
		Get(url)
	if err != nil {
		return nil, transportError("range GET", url, err)
	}

	return openBody(resp, "206", func(status int) bool { return status == http.StatusPartialContent })
}

// Get opens the whole resource. Any 2xx is accepted; anything else is an error wrapping
// ErrUnexpectedStatus.
func (c *Client) Get(ctx context.Context, url, referer string) (*Body, error) {
	resp, err := c.request(ctx, referer).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, transportError("GET", url, err)
	}

	return openBody(resp, "2xx", isSuccess)
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// openBody hands back the raw body when accept allows the response status. want describes the
// accepted statuses in the error.
func openBody(resp *resty.Response, want string, accept func(status int) bool) (*Body, error) {
	body := resp.RawBody()
	if !accept(resp.StatusCode()) {
		_ = body.Close()
		return nil, StatusError(resp.StatusCode(), want)
	}

	return &Body{
		StatusCode:    resp.StatusCode(),
		ContentLength: resp.RawResponse.ContentLength,
		ContentType:   resp.Header().Get("Content-Type"),
		ReadCloser:    body,
	}, nil
}

// StatusError reports an unexpected status. 5xx and 429 are worth retrying, everything else
// is final.
func StatusError(got int, want string) error {
	err := fmt.Errorf("%w: got %d, want %s", ErrUnexpectedStatus, got, want)
	if got >= 500 || got == http.StatusTooManyRequests {
		return jobs.Retryable(err)
	}

	return err
}

// transportError wraps connection-level failures as retryable. A canceled context is not.
func transportError(op, url string, err error) error {
	wrapped := fmt.Errorf("%s %s: %w", op, url, err)
	if errors.Is(err, context.Canceled) {
		return wrapped
	}

	return jobs.Retryable(wrapped)
}

// ParseContentRange parses "bytes <start>-<end>/<total>". An unknown total ("*") is
// malformed for our purposes.
func ParseContentRange(header string) (start, end, total int64, err error) {
	malformed := fmt.Errorf("%w: %q", ErrMalformedContentRange, header)

	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, malformed
	}

	byteRange, totalStr, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, malformed
	}

	startStr, endStr, ok := strings.Cut(byteRange, "-")
	if !ok {
		return 0, 0, 0, malformed
	}

	if start, err = strconv.ParseInt(strings.TrimSpace(startStr), 10, 64); err != nil {
		return 0, 0, 0, malformed
	}

	if end, err = strconv.ParseInt(strings.TrimSpace(endStr), 10, 64); err != nil {
		return 0, 0, 0, malformed
	}

	if total, err = strconv.ParseInt(strings.TrimSpace(totalStr), 10, 64); err != nil {
		return 0, 0, 0, malformed
	}

	if start < 0 || end < start || total <= end {
		return 0, 0, 0, malformed
	}

	return start, end, total, nil
}
