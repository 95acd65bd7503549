package authz

import (
	"testing"

	"github.com/registryx/regserver/internal/store"
)

func role(r store.Role) *store.Role { return &r }

func TestDecideRepoMissingAlwaysDenies(t *testing.T) {
	b := Bundle{RepoExists: false, Visibility: store.VisibilityPublic}
	if Decide(b, ActionPull) {
		t.Fatal("expected deny for nonexistent repo")
	}
}

func TestDecideExplicitGrantOverridesEverything(t *testing.T) {
	b := Bundle{
		RepoExists:     true,
		Visibility:     store.VisibilityPrivate,
		ExplicitGrants: []store.PermissionLevel{store.PermissionWrite},
	}
	if !Decide(b, ActionPush) {
		t.Fatal("expected explicit write grant to allow push")
	}
	if Decide(b, ActionDelete) {
		t.Fatal("write grant should not allow delete")
	}
}

func TestDecideMembershipRules(t *testing.T) {
	cases := []struct {
		role   store.Role
		action Action
		want   bool
	}{
		{store.RoleMember, ActionPull, true},
		{store.RoleMember, ActionPush, false},
		{store.RoleMaintainer, ActionPush, true},
		{store.RoleMaintainer, ActionDelete, false},
		{store.RoleAdmin, ActionDelete, true},
		{store.RoleOwner, ActionDelete, true},
	}
	for _, c := range cases {
		b := Bundle{RepoExists: true, Visibility: store.VisibilityPrivate, MemberRole: role(c.role)}
		got := Decide(b, c.action)
		if got != c.want {
			t.Errorf("role=%s action=%s: got %v want %v", c.role, c.action, got, c.want)
		}
	}
}

func TestDecideCreatorAllowsAll(t *testing.T) {
	creator := int64(42)
	b := Bundle{RepoExists: true, Visibility: store.VisibilityPrivate, CreatorUserID: &creator, UserID: 42}
	for _, a := range []Action{ActionPull, ActionPush, ActionDelete} {
		if !Decide(b, a) {
			t.Errorf("expected creator to be allowed %s", a)
		}
	}
}

func TestDecidePublicVisibilityAllowsPullOnly(t *testing.T) {
	b := Bundle{RepoExists: true, Visibility: store.VisibilityPublic, UserID: 1}
	if !Decide(b, ActionPull) {
		t.Fatal("expected public repo to allow pull")
	}
	if Decide(b, ActionPush) {
		t.Fatal("public visibility should not allow push")
	}
}

func TestDecidePrivateDeniesUnrelatedUser(t *testing.T) {
	b := Bundle{RepoExists: true, Visibility: store.VisibilityPrivate, UserID: 1}
	if Decide(b, ActionPull) {
		t.Fatal("expected private repo with no relation to deny pull")
	}
}

func TestDecideAllTriple(t *testing.T) {
	b := Bundle{RepoExists: true, Visibility: store.VisibilityPublic}
	got := DecideAll(b)
	if !got.Read || got.Write || got.Admin {
		t.Fatalf("got %+v", got)
	}
}
