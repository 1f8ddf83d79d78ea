package httpapi

import (
	"encoding/json"
	"net/http"

	"modelzoo/internal/keeper"
	"modelzoo/internal/runtime"
	"modelzoo/internal/supervisor"
	"modelzoo/pkg/types"
)

// Machine-readable error kinds for the management API. Proxy routes carry
// their own kinds.
const (
	KindBadRequest  = "bad_request"
	KindNotFound    = "not_found"
	KindPortInUse   = "port_in_use"
	KindSpawnFailed = "spawn_failed"
	KindInternal    = "internal"
)

// writeServiceError maps a service error to its HTTP status and kind.
// Messages come from the typed errors themselves; internal failures get a
// generic message so paths and stack details never leak.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case runtime.IsValidation(err), supervisor.IsInvalidPort(err):
		writeJSONError(w, http.StatusBadRequest, KindBadRequest, err.Error())
	case supervisor.IsPortInUse(err):
		writeJSONError(w, http.StatusConflict, KindPortInUse, err.Error())
	case supervisor.IsUnknownInstance(err), keeper.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, KindNotFound, err.Error())
	case supervisor.IsSpawn(err):
		writeJSONError(w, http.StatusInternalServerError, KindSpawnFailed, "failed to start backend process")
	default:
		writeJSONError(w, http.StatusInternalServerError, KindInternal, "internal error")
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}
