package distribution

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/registryx/regserver/internal/store"
	"github.com/registryx/regserver/internal/upload"
)

// parseContentRange parses a "start-end" Content-Range header value (the
// distribution spec's byte range, not RFC 7233's "bytes start-end/total").
func parseContentRange(header string) (start, end int64, ok bool) {
	if header == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err1 := strconv.ParseInt(parts[0], 10, 64)
	e, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return s, e, true
}

// writeUploadError maps the upload package's sentinel errors to their
// response, per §4.F: out-of-order chunks get 416 without altering the
// session's offset, digest mismatches get 400, unknown sessions get 404.
func (h *Handler) writeUploadError(w http.ResponseWriter, ctx context.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, upload.ErrOutOfOrder):
		writeError(w, http.StatusRequestedRangeNotSatisfiable, CodeBlobUploadInvalid, "chunk offset does not match session state", nil)
	case errors.Is(err, upload.ErrDigestMismatch):
		writeError(w, http.StatusBadRequest, CodeDigestInvalid, "uploaded content does not match the asserted digest", nil)
	case errors.Is(err, upload.ErrConcurrentWrite):
		writeError(w, http.StatusConflict, CodeBlobUploadInvalid, "another write to this upload session is in progress", nil)
	case errors.Is(err, upload.ErrNotOpen), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeBlobUploadUnknown, "upload session unknown", nil)
	default:
		writeError(w, http.StatusInternalServerError, CodeUnsupported, "upload failed", nil)
	}
}
