package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xsx123123/EBIDownload/internal/storage"
)

// Fetcher downloads single chunks of one object into a preallocated local
// file. The whole range is buffered in memory and written with one
// positional WriteAt, so concurrent fetchers on disjoint ranges never
// interfere and a chunk is either fully written or not recorded at all.
type Fetcher struct {
	reader storage.RangeReader
	obj    storage.Object
	file   *os.File
	policy RetryPolicy
	logger *zap.Logger
}

// NewFetcher creates a fetcher for one target file. The file handle is
// shared across all chunk workers; only WriteAt is used on it, never the
// shared cursor.
func NewFetcher(reader storage.RangeReader, obj storage.Object, file *os.File, policy RetryPolicy, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		reader: reader,
		obj:    obj,
		file:   file,
		policy: policy,
		logger: logger,
	}
}

// Fetch downloads one chunk, retrying transient failures per the policy.
// On exhaustion or a permanent failure it returns a *ChunkError.
func (f *Fetcher) Fetch(ctx context.Context, chunk Chunk) error {
	attempt := 0
	err := f.policy.Do(ctx, func() error {
		attempt++
		if err := f.fetchOnce(ctx, chunk); err != nil {
			f.logger.Warn("Chunk attempt failed",
				zap.Int("chunk", chunk.Index),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	if err != nil {
		return &ChunkError{Index: chunk.Index, Err: err}
	}
	return nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, chunk Chunk) error {
	body, err := f.reader.ReadRange(ctx, f.obj, chunk.Start, chunk.End)
	if err != nil {
		return fmt.Errorf("range read failed: %w", err)
	}
	defer body.Close()

	buf := make([]byte, chunk.Len())
	if _, err := io.ReadFull(body, buf); err != nil {
		return fmt.Errorf("short range read: %w", err)
	}

	if _, err := f.file.WriteAt(buf, chunk.Start); err != nil {
		return fmt.Errorf("write at offset %d failed: %w", chunk.Start, err)
	}

	return nil
}
