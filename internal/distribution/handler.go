// Package distribution implements the Distribution HTTP Surface (module H):
// the exact /v2 route table, request/response header contract, and the
// v2 error envelope, wiring together authn, authz, upload, manifest, store,
// blobstore and cache. Grounded on the teacher's pkg/registry/handlers.go
// and main.go route table, generalized from its stub blob/manifest
// persistence into the spec's full semantics.
package distribution

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/registryx/regserver/internal/audit"
	"github.com/registryx/regserver/internal/authn"
	"github.com/registryx/regserver/internal/authz"
	"github.com/registryx/regserver/internal/blobstore"
	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/manifest"
	"github.com/registryx/regserver/internal/store"
	"github.com/registryx/regserver/internal/upload"
)

// Handler holds every collaborator a /v2 route needs. Unlike the teacher's
// Handler (which reached into pkg/scanner, pkg/policy, pkg/webhook for
// content-scanning and policy-gating concerns this system does not
// implement), this one is scoped to the registry protocol itself.
type Handler struct {
	Realm   string
	Service string

	Store     *store.Store
	Blobs     blobstore.Driver
	Cache     *cache.Cache
	Auth      *authn.Authenticator
	Authz     *authz.Resolver
	Uploads   *upload.Manager
	Manifests *manifest.Engine
	Audit     *audit.Service

	EnableImmutableTags bool
}

func NewHandler(realm, service string, st *store.Store, blobs blobstore.Driver, c *cache.Cache,
	auth *authn.Authenticator, az *authz.Resolver, uploads *upload.Manager, manifests *manifest.Engine,
	auditSvc *audit.Service, enableImmutableTags bool) *Handler {
	return &Handler{
		Realm: realm, Service: service,
		Store: st, Blobs: blobs, Cache: c,
		Auth: auth, Authz: az, Uploads: uploads, Manifests: manifests, Audit: auditSvc,
		EnableImmutableTags: enableImmutableTags,
	}
}

// logAudit records an activity event in the background, never failing the
// request it's attached to — a write failure here is logged and swallowed,
// per the teacher's audit service contract.
func (h *Handler) logAudit(userID int64, action string, repositoryID *int64, details map[string]any) {
	if h.Audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Audit.Log(ctx, userID, action, repositoryID, details); err != nil {
			log.Printf("audit: log %s failed: %v", action, err)
		}
	}()
}

// identity resolves the caller for this request, or nil if anonymous. An
// error is returned when credentials were presented but didn't verify, or
// when the store lookup behind them failed.
func (h *Handler) identity(r *http.Request) (*authn.Identity, error) {
	id, err := h.Auth.Authenticate(r.Context(), r)
	if err == authn.ErrNoCredentials {
		return nil, nil
	}
	return id, err
}

// requireAccess authenticates (if credentials are present) and authorizes
// the action against repoName, writing the appropriate 401/403 (or 500 when
// the authorization lookup fails) and returning false if the caller should
// not proceed.
func (h *Handler) requireAccess(w http.ResponseWriter, r *http.Request, repoName string, action authz.Action) (userID int64, ok bool) {
	id, err := h.identity(r)
	if err != nil {
		writeUnauthorized(w, r, h.Realm, h.Service, scopeFor(repoName, action))
		return 0, false
	}
	if id != nil {
		userID = id.UserID
	}

	allowed, err := h.Authz.Allowed(r.Context(), userID, repoName, action)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "authorization check failed", nil)
		return 0, false
	}
	if !allowed {
		if id == nil {
			writeUnauthorized(w, r, h.Realm, h.Service, scopeFor(repoName, action))
		} else {
			writeError(w, http.StatusForbidden, CodeDenied, "access denied", nil)
		}
		return 0, false
	}
	return userID, true
}

func scopeFor(repoName string, action authz.Action) string {
	var act string
	switch action {
	case authz.ActionPull:
		act = "pull"
	case authz.ActionPush:
		act = "push"
	case authz.ActionDelete:
		act = "delete"
	}
	return "repository:" + repoName + ":" + act
}
