package distribution

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// nameVar lets <name> contain a single '/' for <org>/<repo>; deeper paths
// match no route.
const nameVar = "{name:[^/]+(?:/[^/]+)?}"

// Router builds the exact /v2 route table from the distribution spec.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	v2 := r.PathPrefix("/v2").Subrouter()

	v2.HandleFunc("/", h.VersionCheck).Methods(http.MethodGet)
	v2.HandleFunc("/_catalog", h.Catalog).Methods(http.MethodGet)

	v2.HandleFunc(nameVar+"/tags/list", h.Tags).Methods(http.MethodGet)

	v2.HandleFunc(nameVar+"/manifests/{reference}", h.GetManifest).Methods(http.MethodGet)
	v2.HandleFunc(nameVar+"/manifests/{reference}", h.HeadManifest).Methods(http.MethodHead)
	v2.HandleFunc(nameVar+"/manifests/{reference}", h.PutManifest).Methods(http.MethodPut)
	v2.HandleFunc(nameVar+"/manifests/{reference}", h.DeleteManifest).Methods(http.MethodDelete)

	v2.HandleFunc(nameVar+"/blobs/{digest}", h.HeadBlob).Methods(http.MethodHead)
	v2.HandleFunc(nameVar+"/blobs/{digest}", h.GetBlob).Methods(http.MethodGet)

	v2.HandleFunc(nameVar+"/blobs/uploads/", h.StartBlobUpload).Methods(http.MethodPost)
	v2.HandleFunc(nameVar+"/blobs/uploads/{uuid}", h.GetBlobUpload).Methods(http.MethodGet)
	v2.HandleFunc(nameVar+"/blobs/uploads/{uuid}", h.PatchBlobUpload).Methods(http.MethodPatch)
	v2.HandleFunc(nameVar+"/blobs/uploads/{uuid}", h.PutBlobUpload).Methods(http.MethodPut)
	v2.HandleFunc(nameVar+"/blobs/uploads/{uuid}", h.DeleteBlobUpload).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNameInvalid, "route not recognized", nil)
	})

	return withGlobalMiddleware(r)
}

// withGlobalMiddleware logs every request and stamps the API version
// header unconditionally, the way the teacher's globalMiddleware does for
// CORS and logging.
func withGlobalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
		next.ServeHTTP(w, r)
	})
}
