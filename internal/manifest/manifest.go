// Package manifest implements the Manifest Engine (module G): byte-exact
// digesting of the raw request body, extraction of referenced blob
// digests, and reference-existence checking before a manifest is accepted.
// Grounded on cue-labs' ociserver manifest.go (digest.FromBytes on the raw
// body, never a re-marshal) and generalized against opencontainers'
// image-spec for the media-type-specific reference shapes.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/registryx/regserver/internal/blobstore"
	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/store"
)

// ErrBlobUnknown means a manifest referenced a digest the blob store
// doesn't have; maps to 400 MANIFEST_BLOB_UNKNOWN.
type ErrBlobUnknown struct {
	Digest string
}

func (e *ErrBlobUnknown) Error() string {
	return fmt.Sprintf("manifest: referenced blob unknown: %s", e.Digest)
}

// ErrInvalid means the manifest body doesn't decode as JSON into the
// manifest shape; maps to 400 MANIFEST_INVALID.
var ErrInvalid = errors.New("manifest: invalid manifest body")

// descriptorShape is the subset of a manifest or index that every OCI and
// Docker schema version shares closely enough to read layers/config off
// of without committing to one concrete schema struct.
type descriptorShape struct {
	MediaType string              `json:"mediaType"`
	Config    *ocispec.Descriptor `json:"config,omitempty"`
	Layers    []ocispec.Descriptor `json:"layers,omitempty"`
	Manifests []ocispec.Descriptor `json:"manifests,omitempty"` // image index / manifest list
}

// Parsed holds what the engine extracts from a manifest body without ever
// re-serializing it: the digest is always computed over the exact bytes
// that arrived on the wire.
type Parsed struct {
	Digest     digest.Digest
	MediaType  string
	Size       int64
	References []digest.Digest
}

// Parse computes the content digest over raw and extracts mediaType plus
// every referenced blob digest (config + layers, or nested manifests for an
// index/manifest-list). It never rejects on unknown fields — only on bytes
// that won't parse as JSON at all, which every supported schema requires.
func Parse(raw []byte) (*Parsed, error) {
	var shape descriptorShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	mediaType := shape.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	p := &Parsed{
		Digest:    digest.FromBytes(raw),
		MediaType: mediaType,
		Size:      int64(len(raw)),
	}
	if shape.Config != nil {
		p.References = append(p.References, shape.Config.Digest)
	}
	for _, l := range shape.Layers {
		p.References = append(p.References, l.Digest)
	}
	for _, m := range shape.Manifests {
		p.References = append(p.References, m.Digest)
	}
	return p, nil
}

// Engine wires parsing to blob-existence checks and the manifest store.
type Engine struct {
	store *store.Store
	blobs blobstore.Driver
	cache *cache.Cache
}

func NewEngine(st *store.Store, blobs blobstore.Driver, c *cache.Cache) *Engine {
	return &Engine{store: st, blobs: blobs, cache: c}
}

// Put validates, checks references, persists the manifest bytes under
// their content-addressed key, and binds the given reference (tag name or
// digest) to it. reference must equal the computed digest when the PUT
// targeted a digest rather than a tag — the caller (internal/distribution)
// is responsible for that check since only it knows whether the URL
// reference was a tag or a digest.
func (e *Engine) Put(ctx context.Context, repositoryID int64, repoName, reference string, raw []byte) (*Parsed, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	for _, ref := range parsed.References {
		ok, err := e.store.BlobExists(ctx, ref.String())
		if err != nil {
			return nil, fmt.Errorf("manifest: check reference: %w", err)
		}
		if !ok {
			return nil, &ErrBlobUnknown{Digest: ref.String()}
		}
	}

	key := blobstore.ManifestKey(repoName, parsed.Digest.String())
	if err := e.blobs.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), parsed.MediaType); err != nil {
		return nil, fmt.Errorf("manifest: store bytes: %w", err)
	}

	if _, err := e.store.PutManifest(ctx, repositoryID, reference, parsed.Digest.String(), parsed.MediaType, parsed.Size); err != nil {
		return nil, fmt.Errorf("manifest: persist: %w", err)
	}
	for _, ref := range parsed.References {
		_ = e.store.LinkBlobToRepository(ctx, ref.String(), repositoryID)
	}
	return parsed, nil
}

// Resolved is what GET/HEAD need to answer a request.
type Resolved struct {
	ManifestID int64
	Digest     string
	MediaType  string
	Size       int64
}

func (e *Engine) Resolve(ctx context.Context, repositoryID int64, reference string) (*Resolved, error) {
	key := resolveCacheKey(repositoryID, reference)

	var cached Resolved
	if hit, _ := e.cache.Get(ctx, cache.NamespaceManifest, key, &cached); hit {
		return &cached, nil
	}

	m, err := e.store.ResolveManifest(ctx, repositoryID, reference)
	if err != nil {
		return nil, err
	}
	resolved := &Resolved{ManifestID: m.ID, Digest: m.Digest, MediaType: m.MediaType, Size: m.Size}
	_ = e.cache.Set(ctx, cache.NamespaceManifest, key, resolved)
	return resolved, nil
}

func resolveCacheKey(repositoryID int64, reference string) string {
	return fmt.Sprintf("%d:%s", repositoryID, reference)
}

// ReadBytes streams the stored manifest content for a resolved digest.
func (e *Engine) ReadBytes(ctx context.Context, repoName, digest string) (io.ReadCloser, bool, error) {
	return e.blobs.Get(ctx, blobstore.ManifestKey(repoName, digest))
}

// Delete removes the manifest row and every tag pointing at it (never the
// referenced blobs — those are only removed, if ever, by a garbage
// collector outside this engine's scope).
func (e *Engine) Delete(ctx context.Context, manifestID int64) error {
	return e.store.DeleteManifest(ctx, manifestID)
}
