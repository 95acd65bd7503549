package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	u := &User{Username: username, Email: email, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, username, email, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`, username))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`, email))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID int64, newHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, newHash, userID)
	if err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	return nil
}

// CreatePasswordResetToken persists a one-time reset token. Only the
// request/verify/consume state machine lives here; sending the email is an
// external collaborator's responsibility (internal/email).
func (s *Store) CreatePasswordResetToken(ctx context.Context, token string, userID int64, expiresAt interface{}) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("store: create reset token: %w", err)
	}
	return nil
}

func (s *Store) ConsumePasswordResetToken(ctx context.Context, token string) (int64, error) {
	var userID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT user_id FROM password_resets
			WHERE token = $1 AND expires_at > NOW()`, token)
		if err := row.Scan(&userID); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM password_resets WHERE token = $1`, token)
		return err
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}
