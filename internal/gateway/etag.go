package gateway

import (
	"encoding/hex"
	"net/http"

	"github.com/open-resource-discovery/provider-server/internal/docrepo"
	"github.com/zeebo/blake3"
)

// writeETag computes a weak ETag from the current directory fingerprint
// plus path, grounded on the teacher's blake3 usage in cxdb_sink.go
// (blake3.New() + io writer, generalized here from artifact-blob hashing
// to a short response cache key). Short: only the first 16 hex characters
// of the digest are kept, since this is a cache-validation token, not a
// content-integrity proof.
// writeETag sets the ETag header and returns true if the response is
// already satisfied by a 304 (the caller must not write a body in that
// case).
func writeETag(w http.ResponseWriter, r *http.Request, repo *docrepo.Repository, relPath string) bool {
	fp := repo.GetDirectoryHash(".")
	h := blake3.New()
	_, _ = h.Write([]byte(fp))
	_, _ = h.Write([]byte(relPath))
	sum := h.Sum(nil)
	etag := `W/"` + hex.EncodeToString(sum)[:16] + `"`
	w.Header().Set("ETag", etag)

	if inm := r.Header.Get("If-None-Match"); inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}
