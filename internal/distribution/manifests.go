package distribution

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/registryx/regserver/internal/authz"
	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/manifest"
	"github.com/registryx/regserver/internal/store"
)

// GetManifest implements GET /v2/<name>/manifests/<reference>.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	h.getOrHeadManifest(w, r, true)
}

// HeadManifest implements HEAD /v2/<name>/manifests/<reference>.
func (h *Handler) HeadManifest(w http.ResponseWriter, r *http.Request) {
	h.getOrHeadManifest(w, r, false)
}

func (h *Handler) getOrHeadManifest(w http.ResponseWriter, r *http.Request, withBody bool) {
	vars := mux.Vars(r)
	repoName, reference := vars["name"], vars["reference"]

	repo, err := h.Store.GetRepository(r.Context(), repoName)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNameUnknown, "repository name not known to registry", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to look up repository", nil)
		return
	}

	if _, ok := h.requireAccess(w, r, repoName, authz.ActionPull); !ok {
		return
	}

	resolved, err := h.Manifests.Resolve(r.Context(), repo.ID, reference)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeManifestUnknown, "manifest unknown", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to resolve manifest", nil)
		return
	}

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Docker-Content-Digest", resolved.Digest)
	w.Header().Set("Content-Type", resolved.MediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(resolved.Size, 10))

	if !withBody {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, ok, err := h.Manifests.ReadBytes(r.Context(), repoName, resolved.Digest)
	if err != nil || !ok {
		writeError(w, http.StatusNotFound, CodeManifestUnknown, "manifest unknown", nil)
		return
	}
	defer rc.Close()

	_ = h.Store.TrackPull(r.Context(), resolved.ManifestID)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// PutManifest implements PUT /v2/<name>/manifests/<reference>. A push to a
// repository that doesn't exist yet creates it (private, caller as owner),
// the same way the first blob push does.
func (h *Handler) PutManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, reference := vars["name"], vars["reference"]

	repo, err := h.Store.GetRepository(r.Context(), repoName)
	if errors.Is(err, store.ErrNotFound) {
		id, authErr := h.identity(r)
		if authErr != nil || id == nil {
			writeUnauthorized(w, r, h.Realm, h.Service, scopeFor(repoName, authz.ActionPush))
			return
		}
		repo, err = h.Store.EnsureRepository(r.Context(), repoName, id.UserID, store.VisibilityPrivate)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to create repository", nil)
			return
		}
		h.Authz.InvalidateAll(r.Context())
		h.putManifest(w, r, repo, repoName, reference, id.UserID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to look up repository", nil)
		return
	}

	userID, ok := h.requireAccess(w, r, repoName, authz.ActionPush)
	if !ok {
		return
	}
	h.putManifest(w, r, repo, repoName, reference, userID)
}

func (h *Handler) putManifest(w http.ResponseWriter, r *http.Request, repo *store.Repository, repoName, reference string, userID int64) {
	if h.EnableImmutableTags && !strings.HasPrefix(reference, "sha256:") {
		exists, err := h.Store.TagExists(r.Context(), repo.ID, reference)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeUnsupported, "tag check failed", nil)
			return
		}
		if exists {
			writeError(w, http.StatusForbidden, CodeDenied, "tag is immutable", nil)
			return
		}
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeManifestInvalid, "failed to read request body", nil)
		return
	}

	parsed, err := h.Manifests.Put(r.Context(), repo.ID, repoName, reference, raw)
	if err != nil {
		var blobUnknown *manifest.ErrBlobUnknown
		switch {
		case errors.As(err, &blobUnknown):
			writeError(w, http.StatusBadRequest, CodeManifestBlobUnknown, "manifest references an unknown blob", blobUnknown.Digest)
		case errors.Is(err, manifest.ErrInvalid):
			writeError(w, http.StatusBadRequest, CodeManifestInvalid, "manifest could not be parsed", nil)
		default:
			writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to persist manifest", nil)
		}
		return
	}

	if strings.HasPrefix(reference, "sha256:") && reference != parsed.Digest.String() {
		writeError(w, http.StatusBadRequest, CodeDigestInvalid, "provided digest does not match manifest content", nil)
		return
	}

	h.Cache.InvalidateNamespace(r.Context(), cache.NamespaceManifest)
	h.Cache.InvalidateNamespace(r.Context(), cache.NamespaceTags)
	h.Cache.InvalidateNamespace(r.Context(), cache.NamespaceRepositories)
	h.logAudit(userID, "manifest.push", &repo.ID, map[string]any{"repository": repoName, "reference": reference, "digest": parsed.Digest.String()})

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Docker-Content-Digest", parsed.Digest.String())
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/manifests/%s", repoName, parsed.Digest.String()))
	w.WriteHeader(http.StatusCreated)
}

// DeleteManifest implements DELETE /v2/<name>/manifests/<reference>. A
// digest reference deletes the manifest and every tag pointing at it; a
// tag reference deletes only that tag.
func (h *Handler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, reference := vars["name"], vars["reference"]

	repo, err := h.Store.GetRepository(r.Context(), repoName)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNameUnknown, "repository name not known to registry", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to look up repository", nil)
		return
	}

	userID, ok := h.requireAccess(w, r, repoName, authz.ActionDelete)
	if !ok {
		return
	}

	if !strings.HasPrefix(reference, "sha256:") {
		if err := h.Store.DeleteTag(r.Context(), repo.ID, reference); errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeManifestUnknown, "manifest unknown", nil)
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to delete tag", nil)
			return
		}
		h.Cache.InvalidateNamespace(r.Context(), cache.NamespaceTags)
		h.logAudit(userID, "tag.delete", &repo.ID, map[string]any{"repository": repoName, "tag": reference})
		w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resolved, err := h.Manifests.Resolve(r.Context(), repo.ID, reference)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeManifestUnknown, "manifest unknown", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to resolve manifest", nil)
		return
	}
	if err := h.Manifests.Delete(r.Context(), resolved.ManifestID); err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to delete manifest", nil)
		return
	}
	h.Cache.InvalidateNamespace(r.Context(), cache.NamespaceManifest)
	h.Cache.InvalidateNamespace(r.Context(), cache.NamespaceTags)
	h.logAudit(userID, "manifest.delete", &repo.ID, map[string]any{"repository": repoName, "digest": reference})

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.WriteHeader(http.StatusAccepted)
}
