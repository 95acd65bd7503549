package distribution

import "net/http"

// VersionCheck implements GET /v2/. Anonymous requests succeed so clients
// can discover API support; a request that did present credentials must
// have them validate, since `docker login` depends on the 200/401 outcome
// of exactly this call.
func (h *Handler) VersionCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.identity(r); err != nil {
		writeUnauthorized(w, r, h.Realm, h.Service, "")
		return
	}
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}
