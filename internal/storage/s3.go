package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Client implements RangeReader against any S3-compatible endpoint using
// minio-go. Public sequencing-archive buckets allow anonymous reads, so
// credentials are optional.
type S3Client struct {
	client *minio.Client
}

// NewS3Client creates a new S3 range-read client.
func NewS3Client(cfg Config) (*S3Client, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.AccessKey == "" && cfg.SecretKey == "" {
		// Anonymous access for public buckets.
		creds = credentials.NewStaticV4("", "", "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &S3Client{client: client}, nil
}

// cleanEndpoint removes protocol and path from an endpoint URL to get the
// host:port format minio-go expects.
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// ReadRange streams exactly the bytes [start, end] of the object.
func (c *S3Client) ReadRange(ctx context.Context, obj Object, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRangeNotSupported, err)
	}

	reader, err := c.client.GetObject(ctx, obj.Bucket, obj.Key, opts)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

// Stat fetches object metadata.
func (c *S3Client) Stat(ctx context.Context, obj Object) (ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, obj.Bucket, obj.Key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Size: info.Size,
		ETag: info.ETag,
	}, nil
}
