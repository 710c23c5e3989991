// Package fetcher downloads source feeds over file, HTTP, and FTP transports
// and decodes CSV and XLSX payloads into records.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a feed and returns its body. Callers must close the body.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// ConditionalFetcher is implemented by transports that can skip unchanged
// content using an entity tag.
type ConditionalFetcher interface {
	// DownloadIfChanged returns (body, newETag, changed, error). When the
	// content is unchanged, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error)
}

// Router dispatches downloads on the URL scheme. Bare paths and file:// URLs
// are read from disk.
type Router struct {
	HTTP *HTTPFetcher
	FTP  *FTPFetcher
}

// NewRouter builds a Router from transport options.
func NewRouter(httpOpts HTTPOptions, ftpOpts FTPOptions) *Router {
	return &Router{HTTP: NewHTTPFetcher(httpOpts), FTP: NewFTPFetcher(ftpOpts)}
}

// Download implements Fetcher.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	switch scheme(rawURL) {
	case "http", "https":
		return r.HTTP.Download(ctx, rawURL)
	case "ftp":
		return r.FTP.Download(ctx, rawURL)
	case "file", "":
		return openFile(rawURL)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme in %q", rawURL)
	}
}

// DownloadIfChanged implements ConditionalFetcher. Only HTTP honours the
// tag; other transports always report the content as changed.
func (r *Router) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	switch scheme(rawURL) {
	case "http", "https":
		return r.HTTP.DownloadIfChanged(ctx, rawURL, etag)
	}
	body, err := r.Download(ctx, rawURL)
	if err != nil {
		return nil, "", false, err
	}
	return body, "", true, nil
}

func scheme(rawURL string) string {
	i := strings.Index(rawURL, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(rawURL[:i])
}

func openFile(rawURL string) (io.ReadCloser, error) {
	path := rawURL
	if scheme(rawURL) == "file" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: parse file url")
		}
		path = u.Path
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, nil
}
