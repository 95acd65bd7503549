package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateOrganization creates the org and its founder membership in one
// transaction, per §4.B ("org creation with founder membership").
func (s *Store) CreateOrganization(ctx context.Context, name, displayName string, founderUserID int64) (*Organization, error) {
	var org Organization
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO organizations (name, display_name)
			VALUES ($1, $2)
			RETURNING id, name, display_name, created_at`, name, displayName)
		if err := row.Scan(&org.ID, &org.Name, &org.DisplayName, &org.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO organization_members (org_id, user_id, role)
			VALUES ($1, $2, $3)`, org.ID, founderUserID, RoleOwner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: create organization: %w", err)
	}
	return &org, nil
}

func (s *Store) GetOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	var org Organization
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, created_at FROM organizations WHERE name = $1`, name)
	err := row.Scan(&org.ID, &org.Name, &org.DisplayName, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get organization: %w", err)
	}
	return &org, nil
}

// UpsertMembership adds or updates a user's role in an org. One unique
// constraint on (org_id, user_id), per §4.B.
func (s *Store) UpsertMembership(ctx context.Context, orgID, userID int64, role Role, invitedBy *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_members (org_id, user_id, role, invited_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		orgID, userID, role, invitedBy)
	if err != nil {
		return fmt.Errorf("store: upsert membership: %w", err)
	}
	return nil
}

func (s *Store) GetMembership(ctx context.Context, orgID, userID int64) (*OrganizationMember, error) {
	var m OrganizationMember
	row := s.db.QueryRowContext(ctx, `
		SELECT org_id, user_id, role, joined_at, invited_by
		FROM organization_members WHERE org_id = $1 AND user_id = $2`, orgID, userID)
	err := row.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt, &m.InvitedBy)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get membership: %w", err)
	}
	return &m, nil
}

// ListUserOrgIDs returns every org id a user belongs to, used to resolve
// org-level repository permission grants (§4.E step 2).
func (s *Store) ListUserOrgIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT org_id FROM organization_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list user orgs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
