package distribution

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/registryx/regserver/internal/authz"
	"github.com/registryx/regserver/internal/blobstore"
	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/store"
)

// cachedBlobMeta is what blob_meta caches: just enough to answer a HEAD or
// set the Content-Length on a GET without a blobstore round trip.
type cachedBlobMeta struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// statBlobCached is the blob_meta read-through: memory/Redis first, falling
// back to the blobstore driver's Stat (module A) on miss and populating the
// cache with the result. Never caches a miss, so a blob that lands between
// two requests is picked up on the very next one.
func (h *Handler) statBlobCached(ctx context.Context, digest string) (cachedBlobMeta, bool, error) {
	var meta cachedBlobMeta
	if hit, _ := h.Cache.Get(ctx, cache.NamespaceBlobMeta, digest, &meta); hit {
		return meta, true, nil
	}

	stat, ok, err := h.Blobs.Stat(ctx, blobstore.BlobKey(digest))
	if err != nil || !ok {
		return cachedBlobMeta{}, ok, err
	}
	meta = cachedBlobMeta{Size: stat.Size, ContentType: stat.ContentType}
	_ = h.Cache.Set(ctx, cache.NamespaceBlobMeta, digest, meta)
	return meta, true, nil
}

// HeadBlob implements HEAD /v2/<name>/blobs/<digest>.
func (h *Handler) HeadBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, digest := vars["name"], vars["digest"]

	if _, err := h.Store.GetRepository(r.Context(), repoName); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNameUnknown, "repository name not known to registry", nil)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to look up repository", nil)
		return
	}

	if _, ok := h.requireAccess(w, r, repoName, authz.ActionPull); !ok {
		return
	}

	meta, ok, err := h.statBlobCached(r.Context(), digest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to stat blob", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, CodeBlobUnknown, "blob unknown to registry", nil)
		return
	}

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
}

// GetBlob implements GET /v2/<name>/blobs/<digest>.
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, digest := vars["name"], vars["digest"]

	if _, err := h.Store.GetRepository(r.Context(), repoName); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNameUnknown, "repository name not known to registry", nil)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to look up repository", nil)
		return
	}

	if _, ok := h.requireAccess(w, r, repoName, authz.ActionPull); !ok {
		return
	}

	meta, ok, err := h.statBlobCached(r.Context(), digest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to stat blob", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, CodeBlobUnknown, "blob unknown to registry", nil)
		return
	}
	rc, ok, err := h.Blobs.Get(r.Context(), blobstore.BlobKey(digest))
	if err != nil || !ok {
		writeError(w, http.StatusNotFound, CodeBlobUnknown, "blob unknown to registry", nil)
		return
	}
	defer rc.Close()

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// StartBlobUpload implements POST /v2/<name>/blobs/uploads/. With a digest
// query param and a body, this is a monolithic upload that finalizes in one
// request; without one, it opens a resumable session (§4.F).
func (h *Handler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	repoName := mux.Vars(r)["name"]

	repo, err := h.Store.GetRepository(r.Context(), repoName)
	var userID int64
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
		userID = id.UserID
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to look up repository", nil)
		return
	} else {
		uid, ok := h.requireAccess(w, r, repoName, authz.ActionPush)
		if !ok {
			return
		}
		userID = uid
	}

	if digest := r.URL.Query().Get("digest"); digest != "" {
		h.monolithicUpload(w, r, repo, repoName, digest, &userID)
		return
	}

	uid := &userID
	sess, err := h.Uploads.Start(r.Context(), repo.ID, uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to start upload session", nil)
		return
	}
	h.writeUploadHeaders(w, repoName, sess.UUID, 0)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) monolithicUpload(w http.ResponseWriter, r *http.Request, repo *store.Repository, repoName, digest string, userID *int64) {
	sess, err := h.Uploads.Start(r.Context(), repo.ID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to start upload session", nil)
		return
	}
	meta, err := h.Uploads.Finalize(r.Context(), sess.UUID, digest, r.Body)
	var uid int64
	if userID != nil {
		uid = *userID
	}
	h.finishUpload(w, r, repoName, digest, meta, err, uid)
}

// PatchBlobUpload implements PATCH /v2/<name>/blobs/uploads/<uuid>.
func (h *Handler) PatchBlobUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, id := vars["name"], vars["uuid"]

	if _, ok := h.requireAccess(w, r, repoName, authz.ActionPush); !ok {
		return
	}

	start, end, hasRange := parseContentRange(r.Header.Get("Content-Range"))
	if !hasRange {
		sess, err := h.Uploads.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, CodeBlobUploadUnknown, "upload session unknown", nil)
			return
		}
		start, end = sess.CurrentOffset, -1
	}

	newOffset, err := h.Uploads.PatchChunk(r.Context(), id, start, end, r.Body)
	if err != nil {
		h.writeUploadError(w, r.Context(), id, err)
		return
	}

	h.writeUploadHeaders(w, repoName, id, newOffset)
	w.WriteHeader(http.StatusAccepted)
}

// PutBlobUpload implements PUT /v2/<name>/blobs/uploads/<uuid>.
func (h *Handler) PutBlobUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, id := vars["name"], vars["uuid"]
	digest := r.URL.Query().Get("digest")

	userID, ok := h.requireAccess(w, r, repoName, authz.ActionPush)
	if !ok {
		return
	}
	if digest == "" {
		writeError(w, http.StatusBadRequest, CodeDigestInvalid, "digest query parameter required", nil)
		return
	}

	var body io.Reader
	if r.ContentLength > 0 {
		body = r.Body
	}
	meta, err := h.Uploads.Finalize(r.Context(), id, digest, body)
	h.finishUpload(w, r, repoName, digest, meta, err, userID)
}

func (h *Handler) finishUpload(w http.ResponseWriter, r *http.Request, repoName, digest string, meta *blobstore.Metadata, err error, userID int64) {
	if err != nil {
		h.writeUploadError(w, r.Context(), "", err)
		return
	}
	_ = h.Store.RegisterBlob(r.Context(), digest, meta.Size, meta.ContentType)
	h.Cache.InvalidateNamespace(r.Context(), cache.NamespaceBlobMeta)
	h.logAudit(userID, "blob.push", nil, map[string]any{"repository": repoName, "digest": digest, "size": meta.Size})

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Location", "/v2/"+repoName+"/blobs/"+digest)
	w.WriteHeader(http.StatusCreated)
}

// DeleteBlobUpload implements DELETE /v2/<name>/blobs/uploads/<uuid>.
func (h *Handler) DeleteBlobUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, id := vars["name"], vars["uuid"]

	if _, ok := h.requireAccess(w, r, repoName, authz.ActionPush); !ok {
		return
	}
	if err := h.Uploads.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, CodeBlobUploadUnknown, "upload session unknown", nil)
		return
	}
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.WriteHeader(http.StatusNoContent)
}

// GetBlobUpload implements GET /v2/<name>/blobs/uploads/<uuid>.
func (h *Handler) GetBlobUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	repoName, id := vars["name"], vars["uuid"]

	if _, ok := h.requireAccess(w, r, repoName, authz.ActionPush); !ok {
		return
	}
	sess, err := h.Uploads.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeBlobUploadUnknown, "upload session unknown", nil)
		return
	}
	h.writeUploadHeaders(w, repoName, id, sess.CurrentOffset-1)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeUploadHeaders(w http.ResponseWriter, repoName, uuid string, rangeEnd int64) {
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Docker-Upload-UUID", uuid)
	w.Header().Set("Location", "/v2/"+repoName+"/blobs/uploads/"+uuid)
	if rangeEnd < 0 {
		w.Header().Set("Range", "0-0")
	} else {
		w.Header().Set("Range", "0-"+strconv.FormatInt(rangeEnd, 10))
	}
}
