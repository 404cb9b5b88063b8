package resolver

import (
	"context"
	"errors"

	"github.com/xsx123123/EBIDownload/internal/storage"
)

// ErrNotFound indicates the accession has no usable remote location. It is
// fatal for that run and is never retried.
var ErrNotFound = errors.New("resolver: no suitable remote location")

// Descriptor is the resolved remote-object record for one accession:
// where the bytes live and what the finished file must look like.
// Immutable once resolved.
type Descriptor struct {
	RunID  string
	Bucket string
	Key    string
	URL    string
	Size   int64
	MD5    string // empty when the archive publishes no digest
}

// Object returns the storage address of the descriptor.
func (d *Descriptor) Object() storage.Object {
	return storage.Object{
		Bucket: d.Bucket,
		Key:    d.Key,
		URL:    d.URL,
	}
}

// Resolver turns an opaque accession into a Descriptor.
type Resolver interface {
	Resolve(ctx context.Context, runID string) (*Descriptor, error)
}
