package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
)

// writeJSON mirrors the teacher's server.writeJSON helper.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the {error:{code,message}} envelope of spec §7.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeAppError maps err to its HTTP status and the structured error body,
// using apperr.KindOf/HTTPStatus for known kinds and InternalError for
// anything else.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	var body errorBody
	body.Error.Code = string(kind)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}
