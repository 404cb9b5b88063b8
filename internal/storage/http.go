package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient implements RangeReader over plain HTTPS with Range headers.
// The public archive mirrors serve every object over both S3 and HTTPS;
// this transport is for environments where S3 egress is blocked.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a ranged-read HTTP client tuned for many
// concurrent range requests against the same host.
func NewHTTPClient(workers int) *HTTPClient {
	if workers <= 0 {
		workers = 8
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: workers,
		MaxIdleConns:        workers * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}
	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Minute,
		},
	}
}

// ReadRange requests the bytes [start, end] of obj.URL. A 200 response
// without range support and a 416 both mean the range cannot be served.
func (c *HTTPClient) ReadRange(ctx context.Context, obj Object, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, obj.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		return resp.Body, nil
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d %s", resp.StatusCode, resp.Status)
	}
}

// Stat issues a HEAD request for object metadata.
func (c *HTTPClient) Stat(ctx context.Context, obj Object) (ObjectInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, obj.URL, nil)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ObjectInfo{}, fmt.Errorf("unexpected status %d %s", resp.StatusCode, resp.Status)
	}

	return ObjectInfo{
		Size: resp.ContentLength,
		ETag: resp.Header.Get("ETag"),
	}, nil
}
