package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PutManifest inserts the manifest row (idempotent by (repository_id,
// digest)) and, if reference is a tag name rather than a digest, atomically
// rebinds the tag to point at it, all in one transaction. Grounded on the
// teacher's RegisterManifest, generalized to the spec's exact semantics
// (content is immutable by digest; tag is a mutable pointer).
func (s *Store) PutManifest(ctx context.Context, repositoryID int64, reference, digest, mediaType string, size int64) (*Manifest, error) {
	var m Manifest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO manifests (repository_id, digest, media_type, size)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (repository_id, digest) DO UPDATE SET media_type = EXCLUDED.media_type
			RETURNING id, repository_id, digest, media_type, size, created_at`,
			repositoryID, digest, mediaType, size)
		if err := row.Scan(&m.ID, &m.RepositoryID, &m.Digest, &m.MediaType, &m.Size, &m.CreatedAt); err != nil {
			return err
		}

		if !strings.HasPrefix(reference, "sha256:") {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tags (repository_id, name, manifest_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (repository_id, name) DO UPDATE SET manifest_id = EXCLUDED.manifest_id, updated_at = CURRENT_TIMESTAMP`,
				repositoryID, reference, m.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: put manifest: %w", err)
	}
	return &m, nil
}

// ResolveManifest resolves a tag name or digest to the manifest row.
func (s *Store) ResolveManifest(ctx context.Context, repositoryID int64, reference string) (*Manifest, error) {
	var m Manifest
	var row *sql.Row
	if strings.HasPrefix(reference, "sha256:") {
		row = s.db.QueryRowContext(ctx, `
			SELECT id, repository_id, digest, media_type, size, created_at
			FROM manifests WHERE repository_id = $1 AND digest = $2`, repositoryID, reference)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT m.id, m.repository_id, m.digest, m.media_type, m.size, m.created_at
			FROM tags t JOIN manifests m ON t.manifest_id = m.id
			WHERE t.repository_id = $1 AND t.name = $2`, repositoryID, reference)
	}
	err := row.Scan(&m.ID, &m.RepositoryID, &m.Digest, &m.MediaType, &m.Size, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: resolve manifest: %w", err)
	}
	return &m, nil
}

// DeleteManifest removes the manifest row and every tag pointing at it, in
// the same transaction, per §4.G ("never touch referenced blobs").
func (s *Store) DeleteManifest(ctx context.Context, manifestID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE manifest_id = $1`, manifestID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM manifests WHERE id = $1`, manifestID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) DeleteTag(ctx context.Context, repositoryID int64, tagName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE repository_id = $1 AND name = $2`, repositoryID, tagName)
	if err != nil {
		return fmt.Errorf("store: delete tag: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TagExists(ctx context.Context, repositoryID int64, tagName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM tags WHERE repository_id = $1 AND name = $2)`,
		repositoryID, tagName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: tag exists: %w", err)
	}
	return exists, nil
}

// ListTags returns tag names strictly greater than last, in lexicographic
// order, up to limit, per §4.I.
func (s *Store) ListTags(ctx context.Context, repositoryID int64, last string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM tags
		WHERE repository_id = $1 AND name > $2
		ORDER BY name
		LIMIT $3`, repositoryID, last, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list tags: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) TrackPull(ctx context.Context, manifestID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE manifests SET pull_count = COALESCE(pull_count, 0) + 1, last_pulled_at = CURRENT_TIMESTAMP
		WHERE id = $1`, manifestID)
	if err != nil {
		return fmt.Errorf("store: track pull: %w", err)
	}
	return nil
}

// RegisterBlob records that a digest was persisted to the blob store, so
// manifest reference checks (§4.G) can verify existence without touching
// object storage on every check.
func (s *Store) RegisterBlob(ctx context.Context, digest string, size int64, mediaType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (digest, size, media_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (digest) DO NOTHING`, digest, size, mediaType)
	if err != nil {
		return fmt.Errorf("store: register blob: %w", err)
	}
	return nil
}

func (s *Store) BlobExists(ctx context.Context, digest string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM blobs WHERE digest = $1)`, digest).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: blob exists: %w", err)
	}
	return exists, nil
}

// LinkBlobToRepository records which repositories reference a blob, for
// garbage-collection-safety: out of scope to collect, in scope to not
// violate (§3).
func (s *Store) LinkBlobToRepository(ctx context.Context, digest string, repositoryID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blob_links (digest, repository_id)
		VALUES ($1, $2)
		ON CONFLICT (digest, repository_id) DO NOTHING`, digest, repositoryID)
	if err != nil {
		return fmt.Errorf("store: link blob: %w", err)
	}
	return nil
}
