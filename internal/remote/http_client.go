// Package remote fetches poster images for embedded videos from the
// hosting site.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxImageBytes  = 10 << 20
)

// DownloadError is a non-2xx response from the image host.
type DownloadError struct {
	StatusCode int
	URL        string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("thumbnail download failed: HTTP %d from %s", e.StatusCode, e.URL)
}

// URLResolver finds the poster image URL for a page URL. It returns "" when
// the page has none.
type URLResolver interface {
	ThumbnailURL(ctx context.Context, sourceURL string) string
}

// ThumbnailFetcher resolves and downloads poster images into dir as
// <id>.<ext>.
type ThumbnailFetcher struct {
	resolver   URLResolver
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewThumbnailFetcher(resolver URLResolver, dir string, timeout time.Duration, logger *slog.Logger) *ThumbnailFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ThumbnailFetcher{
		resolver: resolver,
		dir:      dir,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.WithComponent(logging.OrDiscard(logger), "thumbnail-fetcher"),
	}
}

// Fetch returns the local path of the poster image for sourceURL, or "" if
// none could be obtained. Failures are logged, never returned.
func (f *ThumbnailFetcher) Fetch(ctx context.Context, sourceURL, id string) string {
	imageURL := f.resolver.ThumbnailURL(ctx, sourceURL)
	if imageURL == "" {
		return ""
	}

	p, err := f.Download(ctx, imageURL, id)
	if err != nil {
		f.logger.Warn("thumbnail fetch failed",
			"source", logging.SanitizeURL(sourceURL),
			"error", err,
		)
		return ""
	}
	return p
}

// Download saves imageURL as <dir>/<id>.<ext>. Redirects are followed by the
// client. Oversized or non-image bodies are rejected and nothing is left on
// disk on failure.
func (f *ThumbnailFetcher) Download(ctx context.Context, imageURL, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &DownloadError{StatusCode: resp.StatusCode, URL: logging.SanitizeURL(imageURL)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unexpected content type %q", contentType)
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(f.dir, "."+id+"-*.part")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxImageBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	if n > MaxImageBytes {
		return "", fmt.Errorf("thumbnail exceeds %d bytes", MaxImageBytes)
	}
	if n == 0 {
		return "", fmt.Errorf("thumbnail body is empty")
	}

	dest := filepath.Join(f.dir, id+imageExt(imageURL, contentType))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}

	f.logger.Debug("thumbnail downloaded", "path", dest, "bytes", n)
	return dest, nil
}

var imageExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// imageExt picks a file extension from the response type, then the URL
// path, defaulting to .jpg.
func imageExt(imageURL, contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := imageExts[mt]; ok {
			return ext
		}
	}
	if u, err := url.Parse(imageURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".jpg", ".png", ".webp", ".gif":
			return ext
		case ".jpeg":
			return ".jpg"
		}
	}
	return ".jpg"
}
