package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

const efetchRecord = `<?xml version="1.0" encoding="UTF-8"?>
<EXPERIMENT_PACKAGE_SET>
  <EXPERIMENT_PACKAGE>
    <RUN_SET>
      <RUN accession="SRR1234567" size="9000">
        <SRAFiles>
          <SRAFile filename="SRR1234567" size="8500" md5="0123456789abcdef0123456789abcdef">
            <Alternatives url="https://sra-pub-run-odp.s3.amazonaws.com/sra/SRR1234567/SRR1234567" free_egress="worldwide" access_type="anonymous" org="AWS"/>
            <Alternatives url="gs://sra-pub-run/SRR1234567" free_egress="-" org="GCP"/>
          </SRAFile>
        </SRAFiles>
      </RUN>
    </RUN_SET>
  </EXPERIMENT_PACKAGE>
</EXPERIMENT_PACKAGE_SET>`

func newTestResolver(baseURL string) *NCBIResolver {
	r := NewNCBIResolver("", zap.NewNop())
	r.baseURL = baseURL
	r.policy.BaseBackoff = time.Millisecond
	r.policy.MaxBackoff = time.Millisecond
	return r
}

func TestResolveParsesAWSLocation(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(efetchRecord))
	}))
	defer srv.Close()

	desc, err := newTestResolver(srv.URL).Resolve(context.Background(), "SRR1234567")
	require.NoError(t, err)

	assert.Equal(t, "SRR1234567", desc.RunID)
	assert.Equal(t, "sra-pub-run-odp", desc.Bucket)
	assert.Equal(t, "sra/SRR1234567/SRR1234567", desc.Key)
	assert.Equal(t, "https://sra-pub-run-odp.s3.amazonaws.com/sra/SRR1234567/SRR1234567", desc.URL)
	assert.Equal(t, int64(8500), desc.Size)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", desc.MD5)

	assert.Contains(t, gotQuery, "db=sra")
	assert.Contains(t, gotQuery, "id=SRR1234567")
	assert.Contains(t, gotQuery, "retmode=xml")
	assert.NotContains(t, gotQuery, "api_key")
}

func TestResolveSendsAPIKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("api_key")
		w.Write([]byte(efetchRecord))
	}))
	defer srv.Close()

	r := NewNCBIResolver("secret-key", zap.NewNop())
	r.baseURL = srv.URL

	_, err := r.Resolve(context.Background(), "SRR1234567")
	require.NoError(t, err)
	assert.Equal(t, "secret-key", gotKey)
}

func TestResolveFallsBackToRunSize(t *testing.T) {
	record := strings.Replace(efetchRecord, `size="8500" `, "", 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(record))
	}))
	defer srv.Close()

	desc, err := newTestResolver(srv.URL).Resolve(context.Background(), "SRR1234567")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), desc.Size)
}

func TestResolveEmptyRecordIsNotFoundAndNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`<EXPERIMENT_PACKAGE_SET></EXPERIMENT_PACKAGE_SET>`))
	}))
	defer srv.Close()

	_, err := newTestResolver(srv.URL).Resolve(context.Background(), "SRR0000000")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(efetchRecord))
	}))
	defer srv.Close()

	desc, err := newTestResolver(srv.URL).Resolve(context.Background(), "SRR1234567")
	require.NoError(t, err)
	assert.Equal(t, "sra-pub-run-odp", desc.Bucket)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantBucket string
		wantKey    string
		wantURL    string
		wantErr    bool
	}{
		{
			name:       "https form",
			raw:        "https://sra-pub-run-odp.s3.amazonaws.com/sra/SRR1/SRR1",
			wantBucket: "sra-pub-run-odp",
			wantKey:    "sra/SRR1/SRR1",
			wantURL:    "https://sra-pub-run-odp.s3.amazonaws.com/sra/SRR1/SRR1",
		},
		{
			name:       "s3 form",
			raw:        "s3://sra-pub-src-1/SRR2/file.sra",
			wantBucket: "sra-pub-src-1",
			wantKey:    "SRR2/file.sra",
			wantURL:    "https://sra-pub-src-1.s3.amazonaws.com/SRR2/file.sra",
		},
		{name: "gs scheme rejected", raw: "gs://bucket/key", wantErr: true},
		{name: "non-s3 https rejected", raw: "https://example.com/file", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, httpsURL, err := resolveLocation(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantURL, httpsURL)
		})
	}
}

func TestParseEfetchXMLSkipsNonWorldwideMirrors(t *testing.T) {
	record := `<RUN size="10">
  <SRAFile md5="ffffffffffffffffffffffffffffffff" size="10">
    <Alternatives url="s3://pay-bucket/key" free_egress="-" org="AWS"/>
    <Alternatives url="gs://gcp-bucket/key" free_egress="worldwide" org="GCP"/>
  </SRAFile>
</RUN>`

	desc, err := parseEfetchXML(strings.NewReader(record), "SRR1")
	require.NoError(t, err)
	assert.Nil(t, desc)
}
