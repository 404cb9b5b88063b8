package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			name:       "bucket and key",
			uri:        "s3://sra-pub-run-odp/sra/SRR1234567/SRR1234567",
			wantBucket: "sra-pub-run-odp",
			wantKey:    "sra/SRR1234567/SRR1234567",
		},
		{
			name:       "single path segment key",
			uri:        "s3://bucket/key",
			wantBucket: "bucket",
			wantKey:    "key",
		},
		{name: "missing key", uri: "s3://bucket-only", wantErr: true},
		{name: "missing key trailing slash", uri: "s3://bucket/", wantErr: true},
		{name: "wrong scheme", uri: "https://bucket/key", wantErr: true},
		{name: "empty", uri: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "cancelled context", err: context.Canceled, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: false},
		{name: "range not supported", err: ErrRangeNotSupported, want: false},
		{name: "wrapped range not supported", err: fmt.Errorf("chunk 3: %w", ErrRangeNotSupported), want: false},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "timeout text", err: errors.New("request timeout"), want: true},
		{name: "slow down", err: errors.New("SlowDown: please reduce your request rate"), want: true},
		{name: "service unavailable status", err: errors.New("unexpected status 503 503 Service Unavailable"), want: true},
		{name: "bad gateway status", err: errors.New("efetch returned status 502 Bad Gateway"), want: true},
		{name: "access denied", err: errors.New("AccessDenied: access denied"), want: false},
		{name: "no such key", err: errors.New("NoSuchKey: the specified key does not exist"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{name: "bare host", endpoint: "s3.amazonaws.com", want: "s3.amazonaws.com"},
		{name: "host with port", endpoint: "minio.local:9000", want: "minio.local:9000"},
		{name: "https url", endpoint: "https://s3.amazonaws.com", want: "s3.amazonaws.com"},
		{name: "http url with port", endpoint: "http://127.0.0.1:9000", want: "127.0.0.1:9000"},
		{name: "url with trailing slash", endpoint: "https://s3.amazonaws.com/", want: "s3.amazonaws.com"},
		{name: "url with path", endpoint: "https://s3.amazonaws.com/bucket", wantErr: true},
		{name: "bare host with path", endpoint: "s3.amazonaws.com/bucket", wantErr: true},
		{name: "empty", endpoint: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanEndpoint(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
