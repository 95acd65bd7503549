package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateUploadSession persists a new Open session. The rolling hash state
// starts empty; internal/upload owns advancing it in memory and flushes it
// here on each accepted chunk so a session can be resumed across process
// restarts (§3: "UploadSession ... mutable until completed_at is set").
func (s *Store) CreateUploadSession(ctx context.Context, uuid string, repositoryID int64, userID *int64) (*UploadSession, error) {
	sess := &UploadSession{
		UUID:         uuid,
		RepositoryID: repositoryID,
		UserID:       userID,
		State:        UploadOpen,
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO upload_sessions (uuid, repository_id, user_id, state, current_offset)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING created_at, last_activity_at`, uuid, repositoryID, userID, UploadOpen)
	if err := row.Scan(&sess.CreatedAt, &sess.LastActivityAt); err != nil {
		return nil, fmt.Errorf("store: create upload session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetUploadSession(ctx context.Context, uuid string) (*UploadSession, error) {
	var sess UploadSession
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, repository_id, user_id, state, current_offset, rolling_hash_state,
		       created_at, last_activity_at, completed_at
		FROM upload_sessions WHERE uuid = $1`, uuid)
	err := row.Scan(&sess.UUID, &sess.RepositoryID, &sess.UserID, &sess.State, &sess.CurrentOffset,
		&sess.RollingHash, &sess.CreatedAt, &sess.LastActivityAt, &sess.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get upload session: %w", err)
	}
	return &sess, nil
}

// AdvanceUploadSession persists a chunk acceptance: new offset and rolling
// hash state, compare-and-swap on the offset the caller observed so two
// concurrent PATCHes can't both advance (§4.F "never both may advance
// offset simultaneously").
func (s *Store) AdvanceUploadSession(ctx context.Context, uuid string, expectedOffset, newOffset int64, rollingHash []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET current_offset = $1, rolling_hash_state = $2, last_activity_at = CURRENT_TIMESTAMP
		WHERE uuid = $3 AND state = 'open' AND current_offset = $4`,
		newOffset, rollingHash, uuid, expectedOffset)
	if err != nil {
		return fmt.Errorf("store: advance upload session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *Store) FinalizeUploadSession(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upload_sessions SET state = 'finalized', completed_at = CURRENT_TIMESTAMP
		WHERE uuid = $1 AND state = 'open'`, uuid)
	if err != nil {
		return fmt.Errorf("store: finalize upload session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *Store) CancelUploadSession(ctx context.Context, uuid string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE upload_sessions SET state = 'cancelled', completed_at = CURRENT_TIMESTAMP
		WHERE uuid = $1 AND state = 'open'`, uuid)
	if err != nil {
		return fmt.Errorf("store: cancel upload session: %w", err)
	}
	return nil
}

// ListExpiredUploadSessions returns sessions still Open with no activity
// since the grace cutoff, for the session sweeper (§4.F).
func (s *Store) ListExpiredUploadSessions(ctx context.Context, grace time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-grace)
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid FROM upload_sessions WHERE state = 'open' AND last_activity_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list expired upload sessions: %w", err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		uuids = append(uuids, u)
	}
	return uuids, rows.Err()
}

// ErrConflict signals a compare-and-swap loss: another writer advanced the
// session first, or it is no longer Open.
var ErrConflict = fmt.Errorf("store: conflict")
