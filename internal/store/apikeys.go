package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateAPIKey stores only the SHA-256 hash of the plaintext key; the
// plaintext itself is generated and returned once by internal/authn and
// never persisted, per §3 invariant 4.
func (s *Store) CreateAPIKey(ctx context.Context, userID int64, name, keyHash string, expiresAt *time.Time) (*ApiKey, error) {
	k := &ApiKey{UserID: userID, Name: name, KeyHash: keyHash, ExpiresAt: expiresAt, IsActive: true}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (user_id, name, key_hash, expires_at, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id, created_at`, userID, name, keyHash, expiresAt)
	if err := row.Scan(&k.ID, &k.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: create api key: %w", err)
	}
	return k, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*ApiKey, error) {
	var k ApiKey
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, key_hash, expires_at, last_used_at, is_active, created_at
		FROM api_keys WHERE key_hash = $1`, keyHash)
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.ExpiresAt, &k.LastUsedAt, &k.IsActive, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get api key: %w", err)
	}
	return &k, nil
}

// TouchAPIKeyLastUsed is called fire-and-forget by the caller; a failure
// here must never fail the request it authenticated (§4.D, §5).
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	return err
}

func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]ApiKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, key_hash, expires_at, last_used_at, is_active, created_at
		FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list api keys: %w", err)
	}
	defer rows.Close()

	var out []ApiKey
	for rows.Next() {
		var k ApiKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.ExpiresAt, &k.LastUsedAt, &k.IsActive, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id, userID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = false WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("store: revoke api key: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
