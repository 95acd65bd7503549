// Package authz implements the Authorization component (module E) as a
// pure decision function over a pre-fetched PermissionBundle, isolating the
// DB fetch from the decision logic per spec.md §9's re-architecture note
// ("permissions resolution expressed via ad-hoc SQL fragments... express as
// a small decision table and implement it as a pure function").
package authz

import "github.com/registryx/regserver/internal/store"

type Action string

const (
	ActionPull   Action = "pull"
	ActionPush   Action = "push"
	ActionDelete Action = "delete"
)

// Bundle is everything the decision needs, fetched once by the caller (and
// cacheable under permissions:{user}:{repo}).
type Bundle struct {
	RepoExists      bool
	Visibility      store.Visibility
	CreatorUserID   *int64
	UserID          int64
	MemberRole      *store.Role // nil if not a member of the owning org
	ExplicitGrants  []store.PermissionLevel // grants reaching this user directly or via org membership
}

// Decide implements the §4.E resolution order: first decisive rule wins.
func Decide(b Bundle, action Action) bool {
	// 1. Repo must exist.
	if !b.RepoExists {
		return false
	}

	// 2. Explicit repository permission grants the action.
	for _, level := range b.ExplicitGrants {
		if levelGrants(level, action) {
			return true
		}
	}

	// 3. Membership in the owning org.
	if b.MemberRole != nil {
		switch action {
		case ActionPull:
			return true
		case ActionPush:
			return b.MemberRole.AtLeast(store.RoleMaintainer)
		case ActionDelete:
			return b.MemberRole.AtLeast(store.RoleAdmin)
		}
	}

	// 4. Repository creator gets all three actions.
	if b.CreatorUserID != nil && *b.CreatorUserID == b.UserID {
		return true
	}

	// 5. Public visibility allows pull only.
	if action == ActionPull && b.Visibility == store.VisibilityPublic {
		return true
	}

	// 6. Otherwise deny.
	return false
}

func levelGrants(level store.PermissionLevel, action Action) bool {
	switch action {
	case ActionPull:
		return level == store.PermissionRead || level == store.PermissionWrite || level == store.PermissionAdmin
	case ActionPush:
		return level == store.PermissionWrite || level == store.PermissionAdmin
	case ActionDelete:
		return level == store.PermissionAdmin
	}
	return false
}

// Triple is the cached {read, write, admin} result shape noted in §4.E.
type Triple struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Admin bool `json:"admin"`
}

func DecideAll(b Bundle) Triple {
	return Triple{
		Read:  Decide(b, ActionPull),
		Write: Decide(b, ActionPush),
		Admin: Decide(b, ActionDelete),
	}
}
