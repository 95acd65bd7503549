// Package blobstore is the content-addressed object store behind blob and
// manifest bytes. It generalizes the teacher's pkg/storage Driver interface
// (Writer/Reader/Stat/URLFor/Delete) with the put/get/exists/metadata/health
// contract and adds the multipart-above-threshold logic the teacher never
// implemented, grounded on the original Rust storage/s3.rs.
package blobstore

import (
	"context"
	"io"
	"time"
)

// Metadata describes a stored object without transferring its bytes.
type Metadata struct {
	Size        int64
	CreatedAt   time.Time
	ContentType string
}

// Driver abstracts the underlying object storage backend. A missing object
// is never an error from Get/Stat/Exists — it is reported as absence.
type Driver interface {
	// Put is an idempotent upsert of the full object bytes.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// PutStreaming is like Put but chooses single-put vs. multipart based on
	// size against the configured threshold.
	PutStreaming(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get returns a reader for the object, or ok=false if it does not exist.
	Get(ctx context.Context, key string) (r io.ReadCloser, ok bool, err error)

	// Exists reports presence without transferring bytes.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object; ok reports whether it existed.
	Delete(ctx context.Context, key string) (existed bool, err error)

	// Stat returns object metadata, or ok=false if absent.
	Stat(ctx context.Context, key string) (meta Metadata, ok bool, err error)

	// Health issues a minimal request against the configured bucket.
	Health(ctx context.Context) error
}

// BlobKey is the canonical object-store key for a content digest.
func BlobKey(digest string) string {
	return "blobs/" + digest
}

// ManifestKey is the canonical key for a manifest's content bytes, stored
// once per digest regardless of how many tags reference it.
func ManifestKey(repository, digest string) string {
	return "manifests/" + repository + "/" + digest
}
