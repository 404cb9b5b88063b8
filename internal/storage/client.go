package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
)

// Object addresses one remote object. S3 transports use Bucket/Key, the
// HTTP transport uses URL; resolved descriptors carry both.
type Object struct {
	Bucket string
	Key    string
	URL    string
}

// ObjectInfo contains remote object metadata.
type ObjectInfo struct {
	Size int64
	ETag string
}

// RangeReader is the ranged-read capability the transfer engine consumes.
// ReadRange returns a reader over exactly the bytes [start, end] of the
// object (inclusive, like an HTTP Range header).
type RangeReader interface {
	ReadRange(ctx context.Context, obj Object, start, end int64) (io.ReadCloser, error)
	Stat(ctx context.Context, obj Object) (ObjectInfo, error)
}

// ErrRangeNotSupported is returned when the remote side cannot serve the
// requested byte range.
var ErrRangeNotSupported = errors.New("storage: range request not supported")

// IsTransient reports whether an error looks like a network or storage
// hiccup worth retrying. Cancellation is never transient, and neither are
// malformed ranges or access errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRangeNotSupported) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "slow down") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout")
}

var s3URIPattern = regexp.MustCompile(`^s3://([^/]+)/(.+)$`)

// ParseS3URI splits an s3://bucket/key URI into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	m := s3URIPattern.FindStringSubmatch(uri)
	if m == nil {
		return "", "", fmt.Errorf("invalid S3 URI: %s", uri)
	}
	return m[1], m[2], nil
}

// Config contains transport client configuration.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}
