package beepplayer

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Opener fetches the bytes behind an item URL.
type Opener interface {
	// Open returns the resource body and its content type, which may be
	// empty when unknown.
	Open(ctx context.Context, rawURL string) (body io.ReadCloser, contentType string, err error)
}

// OpenerFunc adapts a function to [Opener].
type OpenerFunc func(ctx context.Context, rawURL string) (io.ReadCloser, string, error)

// Open implements [Opener].
func (f OpenerFunc) Open(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	return f(ctx, rawURL)
}

// SchemeOpener dispatches on the URL scheme ("http", "https", "file",
// "blob", ...).
type SchemeOpener map[string]Opener

// Open implements [Opener].
func (m SchemeOpener) Open(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	scheme, _, ok := strings.Cut(rawURL, ":")
	if !ok {
		return nil, "", fmt.Errorf("beepplayer: url %q has no scheme", rawURL)
	}
	o, found := m[strings.ToLower(scheme)]
	if !found {
		return nil, "", fmt.Errorf("beepplayer: unsupported url scheme %q", scheme)
	}
	return o.Open(ctx, rawURL)
}

// DefaultOpener handles http, https and file URLs. Add a "blob" entry to
// play in-memory audio.
func DefaultOpener() SchemeOpener {
	h := HTTPOpener(nil)
	return SchemeOpener{
		"http":  h,
		"https": h,
		"file":  FileOpener(),
	}
}

// HTTPOpener fetches URLs with GET. A nil client gets an otelhttp-instrumented
// client with a 30 second timeout.
func HTTPOpener(c *http.Client) Opener {
	if c == nil {
		c = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return OpenerFunc(func(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("beepplayer: build request: %w", err)
		}
		resp, err := c.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("beepplayer: fetch %s: %w", rawURL, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, "", fmt.Errorf("beepplayer: fetch %s: status %d", rawURL, resp.StatusCode)
		}
		return resp.Body, resp.Header.Get("Content-Type"), nil
	})
}

// FileOpener opens file:// URLs from the local filesystem.
func FileOpener() Opener {
	return OpenerFunc(func(_ context.Context, rawURL string) (io.ReadCloser, string, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, "", fmt.Errorf("beepplayer: parse %q: %w", rawURL, err)
		}
		path := filepath.FromSlash(u.Path)
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("beepplayer: %w", err)
		}
		return f, mime.TypeByExtension(filepath.Ext(path)), nil
	})
}
