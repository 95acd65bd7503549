// Package upload implements the Upload Session Manager (module F): the v2
// resumable upload state machine (Open -> Finalized | Cancelled), chunk
// offset validation, and the O(1) finalize-time digest check via a rolling
// SHA-256 whose state is checkpointed to the metadata store between
// requests using crypto/sha256's encoding.BinaryMarshaler support.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/registryx/regserver/internal/blobstore"
	"github.com/registryx/regserver/internal/store"
)

var (
	// ErrOutOfOrder maps to 416 BLOB_UPLOAD_INVALID: the PATCH's
	// Content-Range start did not equal the session's current offset.
	ErrOutOfOrder = errors.New("upload: out-of-order chunk")
	// ErrDigestMismatch maps to 400 DIGEST_INVALID.
	ErrDigestMismatch = errors.New("upload: digest mismatch")
	// ErrConcurrentWrite maps to 409: another PATCH on the same session is
	// still in flight.
	ErrConcurrentWrite = errors.New("upload: concurrent write")
	// ErrNotOpen means the session is not in the Open state (already
	// finalized, cancelled, or unknown).
	ErrNotOpen = errors.New("upload: session not open")
)

// Manager owns the upload session lifecycle. A per-UUID mutex enforces a
// single writer per session: PATCH and PUT take it with TryLock, so a
// writer that arrives while another is in flight is turned away at once
// with ErrConcurrentWrite (409) rather than queued behind it.
type Manager struct {
	store *store.Store
	blobs blobstore.Driver

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	grace time.Duration
}

func NewManager(st *store.Store, blobs blobstore.Driver, grace time.Duration) *Manager {
	return &Manager{
		store: st,
		blobs: blobs,
		locks: make(map[string]*sync.Mutex),
		grace: grace,
	}
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func stagingKey(id string) string { return "uploads/" + id }

// Start creates a new Open session.
func (m *Manager) Start(ctx context.Context, repositoryID int64, userID *int64) (*store.UploadSession, error) {
	id := uuid.NewString()
	return m.store.CreateUploadSession(ctx, id, repositoryID, userID)
}

// Get returns the current session state (for GET /blobs/uploads/<uuid>).
func (m *Manager) Get(ctx context.Context, id string) (*store.UploadSession, error) {
	return m.store.GetUploadSession(ctx, id)
}

// PatchChunk validates the chunk's offset, appends it to the session's
// staging object, and advances the rolling hash and persisted offset.
// Returns the new offset (end of the accepted range, inclusive).
func (m *Manager) PatchChunk(ctx context.Context, id string, rangeStart, rangeEnd int64, body io.Reader) (int64, error) {
	lock := m.sessionLock(id)
	if !lock.TryLock() {
		return 0, ErrConcurrentWrite
	}
	defer lock.Unlock()

	sess, err := m.store.GetUploadSession(ctx, id)
	if err != nil {
		return 0, err
	}
	if sess.State != store.UploadOpen {
		return 0, ErrNotOpen
	}
	if rangeStart != sess.CurrentOffset {
		return 0, ErrOutOfOrder
	}

	chunk, err := io.ReadAll(body)
	if err != nil {
		return 0, fmt.Errorf("upload: read chunk: %w", err)
	}
	if rangeEnd >= rangeStart && rangeEnd-rangeStart+1 != int64(len(chunk)) {
		return 0, ErrOutOfOrder
	}

	if _, err := m.appendToStaging(ctx, id, sess.CurrentOffset, chunk); err != nil {
		return 0, err
	}

	h := restoreHash(sess.RollingHash)
	h.Write(chunk)
	newState, err := marshalHash(h)
	if err != nil {
		return 0, fmt.Errorf("upload: checkpoint hash: %w", err)
	}

	newOffset := sess.CurrentOffset + int64(len(chunk))

	if err := m.store.AdvanceUploadSession(ctx, id, sess.CurrentOffset, newOffset, newState); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return 0, ErrConcurrentWrite
		}
		return 0, err
	}
	return newOffset - 1, nil
}

// appendToStaging reads any existing staging bytes and writes
// old||chunk back. This keeps the staging object's full bytes available
// for finalize without requiring the blob store driver to support true
// append semantics.
func (m *Manager) appendToStaging(ctx context.Context, id string, priorOffset int64, chunk []byte) ([]byte, error) {
	key := stagingKey(id)
	var existing []byte
	if priorOffset > 0 {
		r, ok, err := m.blobs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("upload: read staging: %w", err)
		}
		if ok {
			defer r.Close()
			existing, err = io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("upload: read staging: %w", err)
			}
		}
	}
	merged := append(existing, chunk...)
	if err := m.blobs.Put(ctx, key, bytes.NewReader(merged), int64(len(merged)), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("upload: write staging: %w", err)
	}
	return merged, nil
}

// Finalize verifies the rolling digest against the client-asserted digest
// and, on match, moves the staged bytes to their content-addressed key.
// trailingBody is the optional body on a PUT that finalizes without a
// preceding PATCH, or adds one last chunk.
func (m *Manager) Finalize(ctx context.Context, id string, wantDigest string, trailingBody io.Reader) (*blobstore.Metadata, error) {
	lock := m.sessionLock(id)
	if !lock.TryLock() {
		return nil, ErrConcurrentWrite
	}
	defer lock.Unlock()

	sess, err := m.store.GetUploadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State != store.UploadOpen {
		return nil, ErrNotOpen
	}

	if trailingBody != nil {
		chunk, err := io.ReadAll(trailingBody)
		if err != nil {
			return nil, fmt.Errorf("upload: read trailing body: %w", err)
		}
		if len(chunk) > 0 {
			if _, err := m.appendToStaging(ctx, id, sess.CurrentOffset, chunk); err != nil {
				return nil, err
			}
			h := restoreHash(sess.RollingHash)
			h.Write(chunk)
			newState, err := marshalHash(h)
			if err != nil {
				return nil, err
			}
			newOffset := sess.CurrentOffset + int64(len(chunk))
			if err := m.store.AdvanceUploadSession(ctx, id, sess.CurrentOffset, newOffset, newState); err != nil {
				return nil, err
			}
			sess.CurrentOffset = newOffset
			sess.RollingHash = newState
		}
	}

	h := restoreHash(sess.RollingHash)
	actual := "sha256:" + hex.EncodeToString(h.Sum(nil))
	if actual != wantDigest {
		return nil, ErrDigestMismatch
	}

	finalKey := blobstore.BlobKey(wantDigest)
	exists, err := m.blobs.Exists(ctx, finalKey)
	if err != nil {
		return nil, fmt.Errorf("upload: check existing blob: %w", err)
	}
	if !exists {
		r, ok, err := m.blobs.Get(ctx, stagingKey(id))
		if err != nil {
			return nil, fmt.Errorf("upload: read staging: %w", err)
		}
		if !ok {
			// zero-byte upload: nothing was ever staged.
			if err := m.blobs.Put(ctx, finalKey, bytes.NewReader(nil), 0, "application/octet-stream"); err != nil {
				return nil, err
			}
		} else {
			defer r.Close()
			if err := m.blobs.PutStreaming(ctx, finalKey, r, sess.CurrentOffset, "application/octet-stream"); err != nil {
				return nil, fmt.Errorf("upload: persist blob: %w", err)
			}
		}
	}
	// idempotent: a concurrent identical upload may have already persisted
	// the same digest, in which case we simply assert presence (§4.F).

	if err := m.store.FinalizeUploadSession(ctx, id); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, err
	}
	if _, err := m.blobs.Delete(ctx, stagingKey(id)); err != nil {
		// best-effort cleanup; never fail finalize over it.
	}

	meta, _, err := m.blobs.Stat(ctx, finalKey)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// Cancel aborts an Open session.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.CancelUploadSession(ctx, id); err != nil {
		return err
	}
	_, _ = m.blobs.Delete(ctx, stagingKey(id))
	return nil
}

// Sweep aborts sessions that have been Open past the configured grace
// period with no activity, per §4.F's background sweeper.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredUploadSessions(ctx, m.grace)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, id := range expired {
		if err := m.Cancel(ctx, id); err != nil {
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

func restoreHash(state []byte) hash.Hash {
	h := sha256.New()
	if len(state) == 0 {
		return h
	}
	if u, ok := h.(encoding.BinaryUnmarshaler); ok {
		_ = u.UnmarshalBinary(state)
	}
	return h
}

func marshalHash(h hash.Hash) ([]byte, error) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("upload: hash does not support checkpointing")
	}
	return m.MarshalBinary()
}
