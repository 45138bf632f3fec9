// Package fetcher downloads remote album art.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	_maxArtSize    = 10 * 1024 * 1024
	_clientTimeout = 30 * time.Second
	_userAgent     = "medianotify/1.0"
)

// ErrTooLarge is returned for album art over the size limit
var ErrTooLarge = errors.New("album art too large")

// HTTPFetcher downloads album art over http and https
type HTTPFetcher struct {
	logger  *zap.Logger
	client  *http.Client
	maxSize int64
}

// NewHTTPFetcher creates a fetcher with a 10 MB limit per image
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		logger: logger,
		client: &http.Client{
			// Upper bound only; callers bound individual fetches through ctx
			Timeout: _clientTimeout,
		},
		maxSize: _maxArtSize,
	}
}

// Fetch downloads the image at rawURL
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("malformed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported protocol: %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", _userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("url is not an image: %q", resp.Header.Get("Content-Type"))
	}

	if resp.ContentLength > f.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, humanize.Bytes(uint64(resp.ContentLength)))
	}

	// One extra byte tells a body at the limit from one over it
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: over %s", ErrTooLarge, humanize.Bytes(uint64(f.maxSize)))
	}

	f.logger.Debug("Album art fetched",
		zap.String("url", rawURL),
		zap.String("type", mediaType),
		zap.String("size", humanize.Bytes(uint64(len(data)))))
	return data, nil
}
