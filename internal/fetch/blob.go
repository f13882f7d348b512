package fetch

import (
	"context"
	"fmt"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"fetchrace/internal/race"
)

// Blob reads the artifact from a gocloud bucket. The source id is the bucket
// URL, e.g. "s3://bucket?region=eu-west-1&prefix=releases/" or
// "file:///srv/mirror". Bucket drivers register themselves on import.
//
// Buckets are opened once per source and reused across retries.
type Blob struct {
	artifact string

	mu      sync.Mutex
	buckets map[race.SourceID]*blob.Bucket
	owned   map[race.SourceID]bool
}

func NewBlob(artifact string) *Blob {
	return &Blob{
		artifact: artifactKey(artifact),
		buckets:  map[race.SourceID]*blob.Bucket{},
		owned:    map[race.SourceID]bool{},
	}
}

// Register binds an already opened bucket to a source id. The caller keeps
// ownership; Close leaves it open.
func (b *Blob) Register(src race.SourceID, bucket *blob.Bucket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buckets[src] = bucket
	delete(b.owned, src)
}

func (b *Blob) bucket(ctx context.Context, src race.SourceID) (*blob.Bucket, error) {
	b.mu.Lock()
	bk, ok := b.buckets[src]
	b.mu.Unlock()
	if ok {
		return bk, nil
	}

	// Open unlocked; another fetch may win the insert below.
	bk, err := blob.OpenBucket(ctx, string(src))
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.buckets[src]; ok {
		_ = bk.Close()
		return cur, nil
	}
	b.buckets[src] = bk
	b.owned[src] = true
	return bk, nil
}

func (b *Blob) Fetch(ctx context.Context, src race.SourceID) (race.Artifact, error) {
	bk, err := b.bucket(ctx, src)
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, err)
	}

	data, err := bk.ReadAll(ctx, b.artifact)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = fmt.Errorf("%w: %s", ErrNotFound, b.artifact)
		}
		return race.Artifact{}, race.NewFetchError(src, err)
	}

	meta := map[string]string{"key": b.artifact}
	if attrs, err := bk.Attributes(ctx, b.artifact); err == nil {
		if attrs.ContentType != "" {
			meta["content_type"] = attrs.ContentType
		}
		if attrs.ETag != "" {
			meta["etag"] = attrs.ETag
		}
	}
	return race.Artifact{Source: src, Name: b.artifact, Data: data, Meta: meta}, nil
}

// Close closes the buckets this fetcher opened itself.
func (b *Blob) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for src, bk := range b.buckets {
		if !b.owned[src] {
			continue
		}
		if err := bk.Close(); err != nil && first == nil {
			first = err
		}
	}
	clear(b.buckets)
	clear(b.owned)
	return first
}
