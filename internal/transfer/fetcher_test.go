package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsx123123/EBIDownload/internal/storage"
	"go.uber.org/zap"
)

// fakeReader serves ranges out of an in-memory object and can inject a
// fixed number of transient failures, or unconditional permanent
// failures, per chunk start offset.
type fakeReader struct {
	mu        sync.Mutex
	data      []byte
	transient map[int64]int  // start offset -> failures before success
	permanent map[int64]bool // start offset -> always fail
	requests  []int64        // start offsets actually served or attempted
}

func newFakeReader(data []byte) *fakeReader {
	return &fakeReader{
		data:      data,
		transient: make(map[int64]int),
		permanent: make(map[int64]bool),
	}
}

func (f *fakeReader) ReadRange(ctx context.Context, obj storage.Object, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, start)

	if f.permanent[start] {
		return nil, errors.New("access denied")
	}
	if f.transient[start] > 0 {
		f.transient[start]--
		return nil, errors.New("connection reset by peer")
	}
	if start < 0 || end >= int64(len(f.data)) || start > end {
		return nil, fmt.Errorf("%w: bytes=%d-%d", storage.ErrRangeNotSupported, start, end)
	}

	return io.NopCloser(bytes.NewReader(f.data[start : end+1])), nil
}

func (f *fakeReader) Stat(ctx context.Context, obj storage.Object) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Size: int64(len(f.data))}, nil
}

func (f *fakeReader) requestedStarts() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.requests...)
}

func fastRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		Retryable:   storage.IsTransient,
	}
}

func openScratchFile(t *testing.T, size int64) *os.File {
	t.Helper()
	file, err := preallocate(filepath.Join(t.TempDir(), "data.sra"), size)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	return file
}

func TestFetchWritesAtOffset(t *testing.T) {
	data := []byte("0123456789abcdef")
	reader := newFakeReader(data)
	file := openScratchFile(t, int64(len(data)))

	f := NewFetcher(reader, storage.Object{}, file, fastRetryPolicy(3), zap.NewNop())
	require.NoError(t, f.Fetch(context.Background(), Chunk{Index: 2, Start: 8, End: 11}))

	got := make([]byte, 4)
	_, err := file.ReadAt(got, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("89ab"), got)

	// Bytes outside the chunk stay zero.
	head := make([]byte, 8)
	_, err = file.ReadAt(head, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), head)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	data := []byte("0123456789")
	reader := newFakeReader(data)
	reader.transient[0] = 2
	file := openScratchFile(t, int64(len(data)))

	f := NewFetcher(reader, storage.Object{}, file, fastRetryPolicy(5), zap.NewNop())
	require.NoError(t, f.Fetch(context.Background(), Chunk{Index: 0, Start: 0, End: 9}))

	assert.Len(t, reader.requestedStarts(), 3)
}

func TestFetchFailsFastOnPermanentError(t *testing.T) {
	data := []byte("0123456789")
	reader := newFakeReader(data)
	reader.permanent[0] = true
	file := openScratchFile(t, int64(len(data)))

	f := NewFetcher(reader, storage.Object{}, file, fastRetryPolicy(5), zap.NewNop())
	err := f.Fetch(context.Background(), Chunk{Index: 0, Start: 0, End: 9})

	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 0, chunkErr.Index)
	assert.Len(t, reader.requestedStarts(), 1)
}

func TestFetchReturnsChunkErrorOnExhaustion(t *testing.T) {
	data := []byte("0123456789")
	reader := newFakeReader(data)
	reader.transient[0] = 100
	file := openScratchFile(t, int64(len(data)))

	f := NewFetcher(reader, storage.Object{}, file, fastRetryPolicy(3), zap.NewNop())
	err := f.Fetch(context.Background(), Chunk{Index: 0, Start: 0, End: 9})

	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Len(t, reader.requestedStarts(), 3)
}
