package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// splitRepoName splits "org/name" into its namespace and repo components,
// defaulting the namespace to "library" for a bare name, matching the
// teacher's EnsureRepository convention.
func splitRepoName(repoName string) (org, name string) {
	parts := strings.SplitN(repoName, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "library", repoName
}

// EnsureRepository creates the organization (if needed) and the repository
// (if needed), with the creating user recorded as creator and an admin
// grant for them, all inside one transaction (§4.B "repository creation
// with admin grant").
func (s *Store) EnsureRepository(ctx context.Context, repoName string, creatorUserID int64, visibility Visibility) (*Repository, error) {
	orgName, name := splitRepoName(repoName)

	var repo Repository
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var orgID int64
		row := tx.QueryRowContext(ctx, `
			INSERT INTO organizations (name, display_name)
			VALUES ($1, $1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, orgName)
		if err := row.Scan(&orgID); err != nil {
			return err
		}

		row = tx.QueryRowContext(ctx, `
			INSERT INTO repositories (org_id, name, visibility, created_by)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (org_id, name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id, created_at`, orgID, name, visibility, creatorUserID)
		if err := row.Scan(&repo.ID, &repo.CreatedAt); err != nil {
			return err
		}
		repo.OrgID = orgID
		repo.OrgName = orgName
		repo.Name = name
		repo.Visibility = visibility
		repo.CreatedBy = &creatorUserID

		_, err := tx.ExecContext(ctx, `
			INSERT INTO repository_permissions (repository_id, grantee_kind, grantee_id, level)
			VALUES ($1, 'user', $2, 'admin')
			ON CONFLICT (repository_id, grantee_kind, grantee_id) DO NOTHING`, repo.ID, creatorUserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: ensure repository: %w", err)
	}
	return &repo, nil
}

func (s *Store) GetRepository(ctx context.Context, repoName string) (*Repository, error) {
	orgName, name := splitRepoName(repoName)
	var repo Repository
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.org_id, o.name, r.name, r.visibility, r.created_by, r.created_at
		FROM repositories r JOIN organizations o ON r.org_id = o.id
		WHERE o.name = $1 AND r.name = $2`, orgName, name)
	err := row.Scan(&repo.ID, &repo.OrgID, &repo.OrgName, &repo.Name, &repo.Visibility, &repo.CreatedBy, &repo.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get repository: %w", err)
	}
	return &repo, nil
}

func (s *Store) DeleteRepository(ctx context.Context, repoName string) error {
	orgName, name := splitRepoName(repoName)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var repoID int64
		row := tx.QueryRowContext(ctx, `
			SELECT r.id FROM repositories r JOIN organizations o ON r.org_id = o.id
			WHERE o.name = $1 AND r.name = $2`, orgName, name)
		if err := row.Scan(&repoID); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE repository_id = $1`, repoID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM manifests WHERE repository_id = $1`, repoID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM repository_permissions WHERE repository_id = $1`, repoID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, repoID)
		return err
	})
}

// UpsertRepositoryPermission grants one of {read, write, admin} to a user
// XOR an organization (never both), one unique constraint per
// (repository_id, grantee_kind, grantee_id). Additive, not subtractive.
func (s *Store) UpsertRepositoryPermission(ctx context.Context, repositoryID int64, kind GranteeKind, granteeID int64, level PermissionLevel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repository_permissions (repository_id, grantee_kind, grantee_id, level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, grantee_kind, grantee_id) DO UPDATE SET level = EXCLUDED.level`,
		repositoryID, kind, granteeID, level)
	if err != nil {
		return fmt.Errorf("store: upsert repository permission: %w", err)
	}
	return nil
}

// ListRepositoryPermissions returns every explicit grant on a repository
// relevant to the given user id and the set of org ids they belong to.
func (s *Store) ListRepositoryPermissions(ctx context.Context, repositoryID int64, userID int64, orgIDs []int64) ([]RepositoryPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, grantee_kind, grantee_id, level
		FROM repository_permissions
		WHERE repository_id = $1
		  AND ((grantee_kind = 'user' AND grantee_id = $2)
		   OR (grantee_kind = 'org' AND grantee_id = ANY($3)))`,
		repositoryID, userID, pq.Array(orgIDs))
	if err != nil {
		return nil, fmt.Errorf("store: list repository permissions: %w", err)
	}
	defer rows.Close()

	var out []RepositoryPermission
	for rows.Next() {
		var p RepositoryPermission
		if err := rows.Scan(&p.ID, &p.RepositoryID, &p.GranteeKind, &p.GranteeID, &p.Level); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListCatalog returns repository full names ("org/name") strictly greater
// than last, in lexicographic order, up to limit, per §4.I.
func (s *Store) ListCatalog(ctx context.Context, last string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.name || '/' || r.name AS full_name
		FROM repositories r JOIN organizations o ON r.org_id = o.id
		WHERE o.name || '/' || r.name > $1
		ORDER BY full_name
		LIMIT $2`, last, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list catalog: %w", err)
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

