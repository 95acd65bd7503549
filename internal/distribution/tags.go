package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/registryx/regserver/internal/authz"
	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/store"
)

type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Tags implements GET /v2/<name>/tags/list.
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	repoName := mux.Vars(r)["name"]

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

	n, last := parsePagination(r)
	if n == 0 {
		w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tagsResponse{Name: repoName, Tags: []string{}})
		return
	}

	tags, err := h.listTagsCached(r.Context(), repo.ID, last, n+1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to list tags", nil)
		return
	}
	hasMore := len(tags) > n
	if hasMore {
		tags = tags[:n]
	}

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Content-Type", "application/json")
	if hasMore && len(tags) > 0 {
		w.Header().Set("Link", fmt.Sprintf(`</v2/%s/tags/list?n=%d&last=%s>; rel="next"`, repoName, n, url.QueryEscape(tags[len(tags)-1])))
	}
	if tags == nil {
		tags = []string{}
	}
	json.NewEncoder(w).Encode(tagsResponse{Name: repoName, Tags: tags})
}

// listTagsCached is the tags read-through, keyed on the (repository, cursor,
// limit) triple so distinct pages don't collide in the same cache entry.
func (h *Handler) listTagsCached(ctx context.Context, repositoryID int64, last string, limit int) ([]string, error) {
	key := strconv.FormatInt(repositoryID, 10) + ":" + last + ":" + strconv.Itoa(limit)

	var tags []string
	if hit, _ := h.Cache.Get(ctx, cache.NamespaceTags, key, &tags); hit {
		return tags, nil
	}
	tags, err := h.Store.ListTags(ctx, repositoryID, last, limit)
	if err != nil {
		return nil, err
	}
	_ = h.Cache.Set(ctx, cache.NamespaceTags, key, tags)
	return tags, nil
}
