package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/store"
)

// Resolver fetches the permission bundle the pure Decide function needs,
// caching the resolved {read, write, admin} triple under
// permissions:{user}:{repo} per §4.E.
type Resolver struct {
	store *store.Store
	cache *cache.Cache
}

func NewResolver(st *store.Store, c *cache.Cache) *Resolver {
	return &Resolver{store: st, cache: c}
}

func permKey(userID int64, repoName string) string {
	return fmt.Sprintf("%d:%s", userID, repoName)
}

// Allowed resolves whether userID may perform action against repoName,
// fetching the underlying grants fresh on a cache miss. userID is 0 for an
// anonymous caller.
func (r *Resolver) Allowed(ctx context.Context, userID int64, repoName string, action Action) (bool, error) {
	if r.cache != nil && userID != 0 {
		var cached Triple
		if hit, _ := r.cache.Get(ctx, cache.NamespacePermissions, permKey(userID, repoName), &cached); hit {
			return tripleGrants(cached, action), nil
		}
	}

	b, err := r.fetchBundle(ctx, userID, repoName)
	if err != nil {
		return false, err
	}

	triple := DecideAll(*b)
	if r.cache != nil && userID != 0 {
		_ = r.cache.Set(ctx, cache.NamespacePermissions, permKey(userID, repoName), triple)
	}
	return tripleGrants(triple, action), nil
}

func tripleGrants(t Triple, action Action) bool {
	switch action {
	case ActionPull:
		return t.Read
	case ActionPush:
		return t.Write
	case ActionDelete:
		return t.Admin
	}
	return false
}

func (r *Resolver) fetchBundle(ctx context.Context, userID int64, repoName string) (*Bundle, error) {
	repo, err := r.store.GetRepository(ctx, repoName)
	if errors.Is(err, store.ErrNotFound) {
		return &Bundle{RepoExists: false, UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authz: fetch repository: %w", err)
	}

	b := &Bundle{
		RepoExists:    true,
		Visibility:    repo.Visibility,
		CreatorUserID: repo.CreatedBy,
		UserID:        userID,
	}
	if userID == 0 {
		return b, nil
	}

	if m, err := r.store.GetMembership(ctx, repo.OrgID, userID); err == nil {
		b.MemberRole = &m.Role
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("authz: fetch membership: %w", err)
	}

	orgIDs, err := r.store.ListUserOrgIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: list user orgs: %w", err)
	}
	grants, err := r.store.ListRepositoryPermissions(ctx, repo.ID, userID, orgIDs)
	if err != nil {
		return nil, fmt.Errorf("authz: list repository permissions: %w", err)
	}
	for _, g := range grants {
		b.ExplicitGrants = append(b.ExplicitGrants, g.Level)
	}
	return b, nil
}

// Invalidate drops a user's cached permissions for one repository. Any
// membership, role, visibility, or grant change invalidates the whole
// permissions namespace instead (InvalidateAll), since a single change can
// affect every repository the user can see.
func (r *Resolver) Invalidate(ctx context.Context, userID int64, repoName string) {
	if r.cache == nil {
		return
	}
	r.cache.Invalidate(ctx, cache.NamespacePermissions, permKey(userID, repoName))
}

// InvalidateAll drops every cached permission bundle. The simplest safe
// response to a membership/role/visibility/grant change, per §4.C.
func (r *Resolver) InvalidateAll(ctx context.Context) {
	if r.cache == nil {
		return
	}
	r.cache.InvalidateNamespace(ctx, cache.NamespacePermissions)
}
