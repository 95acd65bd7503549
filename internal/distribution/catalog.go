package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/registryx/regserver/internal/authz"
	"github.com/registryx/regserver/internal/cache"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	catalogFetchBatch = 200
)

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

// Catalog implements GET /v2/_catalog: paginated, filtered to repositories
// the caller may pull, strictly lexicographically increasing across pages
// per §4.I.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	id, err := h.identity(r)
	if err != nil {
		writeUnauthorized(w, r, h.Realm, h.Service, "")
		return
	}
	var userID int64
	if id != nil {
		userID = id.UserID
	}

	n, last := parsePagination(r)
	if n == 0 {
		w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(catalogResponse{Repositories: []string{}})
		return
	}

	var result []string
	cursor := last
	for len(result) <= n {
		batch, err := h.listCatalogCached(r.Context(), cursor)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeUnsupported, "failed to list repositories", nil)
			return
		}
		if len(batch) == 0 {
			break
		}
		for _, repoName := range batch {
			cursor = repoName
			allowed, err := h.Authz.Allowed(r.Context(), userID, repoName, authz.ActionPull)
			if err != nil {
				writeError(w, http.StatusInternalServerError, CodeUnsupported, "authorization check failed", nil)
				return
			}
			if allowed {
				result = append(result, repoName)
				if len(result) > n {
					break
				}
			}
		}
		if len(batch) < catalogFetchBatch {
			break
		}
		if len(result) > n {
			break
		}
	}

	hasMore := len(result) > n
	if hasMore {
		result = result[:n]
	}

	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Content-Type", "application/json")
	if hasMore && len(result) > 0 {
		w.Header().Set("Link", fmt.Sprintf(`</v2/_catalog?n=%d&last=%s>; rel="next"`, n, url.QueryEscape(result[len(result)-1])))
	}
	json.NewEncoder(w).Encode(catalogResponse{Repositories: result})
}

// listCatalogCached is the repositories read-through: one batch per cursor
// value, cached under that cursor so repeated first-page catalog requests
// (the common case) skip the store entirely until the next manifest push.
func (h *Handler) listCatalogCached(ctx context.Context, cursor string) ([]string, error) {
	var batch []string
	if hit, _ := h.Cache.Get(ctx, cache.NamespaceRepositories, cursor, &batch); hit {
		return batch, nil
	}
	batch, err := h.Store.ListCatalog(ctx, cursor, catalogFetchBatch)
	if err != nil {
		return nil, err
	}
	_ = h.Cache.Set(ctx, cache.NamespaceRepositories, cursor, batch)
	return batch, nil
}

func parsePagination(r *http.Request) (n int, last string) {
	q := r.URL.Query()
	n = defaultPageSize
	if v := q.Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			n = parsed
		}
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, q.Get("last")
}
